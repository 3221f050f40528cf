// Package s3 provides a diskit.Adapter over an S3 bucket.
//
// Directories are zero byte marker objects whose key ends in "/".
// Visibility maps to the public-read and private canned ACLs.
package s3

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/gobeaver/diskit"
	"github.com/gobeaver/diskit/config"
)

const allUsersURI = "http://acs.amazonaws.com/groups/global/AllUsers"

// deleteBatchSize is the most keys DeleteObjects accepts.
const deleteBatchSize = 1000

// Adapter provides an S3 implementation of diskit.Adapter
type Adapter struct {
	disk       string
	descriptor Descriptor
	client     Client
	uploader   *manager.Uploader
	prefix     string
	logger     *slog.Logger
}

// New creates an S3 adapter configured from r.
func New(r config.Resolver, options ...AdapterOption) (*Adapter, error) {
	if r == nil {
		r = config.New()
	}
	s := settings{namespace: DefaultNamespace, disk: "awsS3", logger: diskit.NoopLogger()}
	for _, opt := range options {
		opt(&s)
	}

	d, err := resolve(r, s)
	if err != nil {
		return nil, err
	}

	client := s.client
	if client == nil {
		c, err := NewClient(context.Background(), d)
		if err != nil {
			return nil, diskit.NewPathError("connect", s.disk, "", diskit.ErrConnection, err)
		}
		client = c
	}

	prefix := strings.Trim(d.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &Adapter{
		disk:       s.disk,
		descriptor: d,
		client:     client,
		uploader:   manager.NewUploader(client),
		prefix:     prefix,
		logger:     s.logger,
	}, nil
}

// Descriptor returns the resolved settings.
func (a *Adapter) Descriptor() Descriptor {
	return a.descriptor
}

func (a *Adapter) Disk() string {
	return a.disk
}

// Close is a no-op; the client holds no connection state worth closing.
func (a *Adapter) Close() error {
	return nil
}

// key maps p to an object key below the prefix.
func (a *Adapter) key(p string) string {
	return a.prefix + strings.TrimPrefix(p, "/")
}

// dirKey returns the marker key of directory p.
func (a *Adapter) dirKey(p string) string {
	if p == "" {
		return a.prefix
	}
	return a.key(p) + "/"
}

// relative strips the prefix from an object key.
func (a *Adapter) relative(key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, a.prefix), "/")
}

func acl(v diskit.Visibility) types.ObjectCannedACL {
	if v == diskit.Private {
		return types.ObjectCannedACLPrivate
	}
	return types.ObjectCannedACLPublicRead
}

// mapS3Error classifies err; kind applies when nothing more specific
// does.
func (a *Adapter) mapS3Error(op, p string, err, kind error) error {
	var pe *diskit.PathError
	if errors.As(err, &pe) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return diskit.NewPathError(op, a.disk, p, diskit.ErrNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return diskit.NewPathError(op, a.disk, p, diskit.ErrAccessDenied, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return diskit.NewPathError(op, a.disk, p, diskit.ErrConnection, err)
	}
	return diskit.NewPathError(op, a.disk, p, kind, err)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (a *Adapter) head(ctx context.Context, op, p string) (*s3.HeadObjectOutput, error) {
	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.descriptor.Bucket),
		Key:    aws.String(a.key(p)),
	})
	if err != nil {
		return nil, a.mapS3Error(op, p, err, diskit.ErrUnableToRetrieveMetadata)
	}
	return out, nil
}

// ============================================================================
// Reading
// ============================================================================

func (a *Adapter) FileExists(ctx context.Context, p string) bool {
	if p == "" {
		return false
	}
	_, err := a.head(ctx, "fileexists", p)
	return err == nil
}

// DirectoryExists reports whether a marker or any object exists below p.
func (a *Adapter) DirectoryExists(ctx context.Context, p string) bool {
	if p == "" {
		return true
	}
	out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.descriptor.Bucket),
		Prefix:  aws.String(a.dirKey(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		a.logger.Debug("directory check failed", "path", p, "error", err)
		return false
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0
}

func (a *Adapter) Read(ctx context.Context, p string) ([]byte, error) {
	rc, err := a.ReadStream(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, a.mapS3Error("read", p, err, diskit.ErrConnection)
	}
	return data, nil
}

func (a *Adapter) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.descriptor.Bucket),
		Key:    aws.String(a.key(p)),
	})
	if err != nil {
		return nil, a.mapS3Error("read", p, err, nil)
	}
	return out.Body, nil
}

func (a *Adapter) FileSize(ctx context.Context, p string) (int64, error) {
	out, err := a.head(ctx, "filesize", p)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (a *Adapter) LastModified(ctx context.Context, p string) (time.Time, error) {
	out, err := a.head(ctx, "lastmodified", p)
	if err != nil {
		return time.Time{}, err
	}
	return aws.ToTime(out.LastModified), nil
}

// MimeType returns the stored content type, guessing from the name when
// none was stored.
func (a *Adapter) MimeType(ctx context.Context, p string) (string, error) {
	out, err := a.head(ctx, "mimetype", p)
	if err != nil {
		return "", err
	}
	if ct := aws.ToString(out.ContentType); ct != "" {
		return ct, nil
	}
	return diskit.DetectMimeType(p, nil), nil
}

// Visibility reads the object ACL. A READ grant to all users is public.
func (a *Adapter) Visibility(ctx context.Context, p string) (diskit.Visibility, error) {
	out, err := a.client.GetObjectAcl(ctx, &s3.GetObjectAclInput{
		Bucket: aws.String(a.descriptor.Bucket),
		Key:    aws.String(a.aclKey(ctx, p)),
	})
	if err != nil {
		return diskit.Unknown, a.mapS3Error("visibility", p, err, diskit.ErrUnableToRetrieveMetadata)
	}
	return visibilityFromGrants(out.Grants), nil
}

// aclKey returns the key carrying the ACL of p: the object itself, or
// the marker object when p is a directory.
func (a *Adapter) aclKey(ctx context.Context, p string) string {
	if p == "" {
		return a.key(p)
	}
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.descriptor.Bucket),
		Key:    aws.String(a.key(p)),
	})
	if err == nil || !isNotFound(err) {
		return a.key(p)
	}
	_, err = a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.descriptor.Bucket),
		Key:    aws.String(a.dirKey(p)),
	})
	if err != nil {
		return a.key(p)
	}
	return a.dirKey(p)
}

func visibilityFromGrants(grants []types.Grant) diskit.Visibility {
	for _, g := range grants {
		if g.Grantee == nil || aws.ToString(g.Grantee.URI) != allUsersURI {
			continue
		}
		if g.Permission == types.PermissionRead || g.Permission == types.PermissionFullControl {
			return diskit.Public
		}
	}
	return diskit.Private
}

// ListContents pages through the bucket as iteration proceeds. Deep
// listings report directories implied by object keys once, before their
// first child.
func (a *Adapter) ListContents(ctx context.Context, p string, deep bool) iter.Seq2[diskit.Entry, error] {
	return func(yield func(diskit.Entry, error) bool) {
		prefix := a.dirKey(p)
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(a.descriptor.Bucket),
			Prefix: aws.String(prefix),
		}
		if !deep {
			input.Delimiter = aws.String("/")
		}

		seen := map[string]bool{}
		found := false
		emitDir := func(dir string) bool {
			if dir == "" || dir == p || seen[dir] {
				return true
			}
			seen[dir] = true
			return yield(diskit.Entry{Path: dir, Type: diskit.EntryDirectory, Visibility: diskit.Unknown}, nil)
		}
		// emitParents reports the directories between p and rel.
		emitParents := func(rel string) bool {
			var parents []string
			for dir := path.Dir(rel); dir != "." && dir != p; dir = path.Dir(dir) {
				parents = append(parents, dir)
			}
			for i := len(parents) - 1; i >= 0; i-- {
				if !emitDir(parents[i]) {
					return false
				}
			}
			return true
		}

		paginator := s3.NewListObjectsV2Paginator(a.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(diskit.Entry{}, a.mapS3Error("listcontents", p, err, diskit.ErrUnableToRetrieveMetadata))
				return
			}

			for _, cp := range page.CommonPrefixes {
				found = true
				if !emitDir(a.relative(aws.ToString(cp.Prefix))) {
					return
				}
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				found = true
				if key == prefix {
					continue
				}
				rel := a.relative(key)
				if deep && !emitParents(rel) {
					return
				}
				if strings.HasSuffix(key, "/") {
					if !emitDir(rel) {
						return
					}
					continue
				}
				entry := diskit.Entry{
					Path:         rel,
					Type:         diskit.EntryFile,
					Size:         aws.ToInt64(obj.Size),
					LastModified: aws.ToTime(obj.LastModified),
					Visibility:   diskit.Unknown,
				}
				if !yield(entry, nil) {
					return
				}
			}
		}

		if !found && p != "" {
			yield(diskit.Entry{}, diskit.NewPathError("listcontents", a.disk, p, diskit.ErrNotFound, nil))
		}
	}
}

// ============================================================================
// Writing
// ============================================================================

func (a *Adapter) Write(ctx context.Context, p string, contents []byte, options ...diskit.Option) error {
	opts := diskit.ApplyOptions(options)
	contentType := opts.ContentType
	if contentType == "" {
		contentType = diskit.DetectMimeType(p, contents)
	}
	return a.upload(ctx, "write", p, bytes.NewReader(contents), contentType, opts)
}

func (a *Adapter) WriteStream(ctx context.Context, p string, r io.Reader, options ...diskit.Option) error {
	opts := diskit.ApplyOptions(options)
	contentType := opts.ContentType
	if contentType == "" {
		br := bufio.NewReaderSize(r, diskit.MimeSniffLen)
		head, _ := br.Peek(diskit.MimeSniffLen)
		contentType = diskit.DetectMimeType(p, head)
		r = br
	}
	return a.upload(ctx, "writestream", p, r, contentType, opts)
}

// upload sends the object through the upload manager, which switches to
// multipart uploads for large bodies.
func (a *Adapter) upload(ctx context.Context, op, p string, body io.Reader, contentType string, opts diskit.Options) error {
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.descriptor.Bucket),
		Key:         aws.String(a.key(p)),
		Body:        body,
		ACL:         acl(opts.ForFile(a.descriptor.Visibility)),
		ContentType: aws.String(contentType),
		Metadata:    opts.Metadata,
	})
	if err != nil {
		return a.mapS3Error(op, p, err, diskit.ErrWrite)
	}
	return nil
}

// Delete removes an object. Deleting a missing object succeeds.
func (a *Adapter) Delete(ctx context.Context, p string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.descriptor.Bucket),
		Key:    aws.String(a.key(p)),
	})
	if err != nil && !isNotFound(err) {
		return a.mapS3Error("delete", p, err, diskit.ErrWrite)
	}
	return nil
}

// DeleteDirectory removes every object below p in batches.
func (a *Adapter) DeleteDirectory(ctx context.Context, p string) error {
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.descriptor.Bucket),
		Prefix: aws.String(a.dirKey(p)),
	})

	var batch []types.ObjectIdentifier
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(a.descriptor.Bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		batch = batch[:0]
		if err != nil {
			return err
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return errors.New(aws.ToString(e.Key) + ": " + aws.ToString(e.Message))
		}
		return nil
	}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return a.mapS3Error("deletedirectory", p, err, diskit.ErrWrite)
		}
		for _, obj := range page.Contents {
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == deleteBatchSize {
				if err := flush(); err != nil {
					return a.mapS3Error("deletedirectory", p, err, diskit.ErrWrite)
				}
			}
		}
	}
	if err := flush(); err != nil {
		return a.mapS3Error("deletedirectory", p, err, diskit.ErrWrite)
	}
	return nil
}

// CreateDirectory writes a marker object.
func (a *Adapter) CreateDirectory(ctx context.Context, p string, options ...diskit.Option) error {
	if p == "" {
		return nil
	}
	opts := diskit.ApplyOptions(options)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.descriptor.Bucket),
		Key:    aws.String(a.dirKey(p)),
		Body:   bytes.NewReader(nil),
		ACL:    acl(opts.ForDirectory(a.descriptor.Visibility)),
	})
	if err != nil {
		return a.mapS3Error("createdirectory", p, err, diskit.ErrDirectoryNotWritable)
	}
	return nil
}

// Copy copies server side. Without an explicit visibility the source
// ACL is kept.
func (a *Adapter) Copy(ctx context.Context, source, destination string, options ...diskit.Option) error {
	if _, err := a.head(ctx, "copy", source); err != nil {
		return err
	}
	opts := diskit.ApplyOptions(options)

	visibility := opts.ForFile(diskit.Unknown)
	if !visibility.Valid() {
		v, err := a.Visibility(ctx, source)
		if err != nil {
			a.logger.Debug("source visibility unavailable, using default", "path", source, "error", err)
			v = a.descriptor.Visibility
		}
		visibility = v
	}

	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(a.descriptor.Bucket),
		CopySource: aws.String(a.descriptor.Bucket + "/" + (&url.URL{Path: a.key(source)}).EscapedPath()),
		Key:        aws.String(a.key(destination)),
		ACL:        acl(visibility),
	})
	if err != nil {
		return a.mapS3Error("copy", source, err, diskit.ErrWrite)
	}
	return nil
}

// Move copies and then deletes the source.
func (a *Adapter) Move(ctx context.Context, source, destination string, options ...diskit.Option) error {
	if source == destination {
		_, err := a.head(ctx, "move", source)
		return err
	}
	if err := a.Copy(ctx, source, destination, options...); err != nil {
		if pe, ok := err.(*diskit.PathError); ok {
			pe.Op = "move"
		}
		return err
	}
	return a.Delete(ctx, source)
}

func (a *Adapter) SetVisibility(ctx context.Context, p string, visibility diskit.Visibility) error {
	_, err := a.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(a.descriptor.Bucket),
		Key:    aws.String(a.aclKey(ctx, p)),
		ACL:    acl(visibility),
	})
	if err != nil {
		return diskit.NewPathError("setvisibility", a.disk, p, diskit.ErrUnableToSetVisibility, err)
	}
	return nil
}

var _ diskit.Adapter = (*Adapter)(nil)
