// Package diskit provides one storage contract over several backends:
// local disk, FTP, SFTP, Amazon S3 and memory.
//
// Every backend implements [Adapter]. Application code talks to a
// [Filesystem], which normalizes paths before handing them to the adapter
// and adds utility operations (Mkdir, Rmdir, Append, GetContents, Glob
// and more) that behave the same on every backend.
//
// # Drivers
//
// Drivers live in their own packages and register themselves with
// [RegisterDriver] when imported:
//
//   - Local filesystem (github.com/gobeaver/diskit/driver/local)
//   - FTP (github.com/gobeaver/diskit/driver/ftp)
//   - SFTP (github.com/gobeaver/diskit/driver/sftp)
//   - Amazon S3 and compatible services (github.com/gobeaver/diskit/driver/s3)
//   - In-memory (github.com/gobeaver/diskit/driver/memory)
//
// # Basic Usage
//
//	adapter, err := local.New(nil, local.WithRoot("./storage"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fs := diskit.New(adapter)
//
//	ctx := context.Background()
//	err = fs.Write(ctx, "hello.txt", []byte("Hello, World!"))
//	data, err := fs.Read(ctx, "hello.txt")
//
//	for entry, err := range fs.ListContents(ctx, "", true) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(entry.Path)
//	}
//
// # Configuration
//
// Adapters read their parameters from a [config.Resolver] under the
// namespace filesystem.<disk>, for example filesystem.sftp.host. Values
// passed as driver options win over configuration, which wins over the
// driver defaults. Invalid values are reported as a [*ConfigError] when
// the adapter is built.
//
// A [Manager] builds one adapter per disk on first use and copies or
// moves files between disks:
//
//	m := diskit.NewManager(resolver)
//	defer m.Close()
//
//	err := m.Copy(ctx, "sftp://reports/q1.csv", "awsS3://archive/q1.csv")
//
// # Visibility
//
// Files and directories are [Public] or [Private]. POSIX backends map the
// levels to mode bits through a [PermissionTable]; S3 maps them to canned
// ACLs. FTP cannot change permissions and reports [ErrNotSupported].
//
// # Error Handling
//
// Errors are [*PathError] values carrying the operation, disk and path.
// They wrap one of the sentinel kinds and the backend's own error:
//
//	_, err := fs.Read(ctx, "missing.txt")
//	if diskit.IsNotFound(err) {
//	    // File does not exist
//	}
//
//	var pathErr *diskit.PathError
//	if errors.As(err, &pathErr) {
//	    fmt.Printf("Operation: %s, Disk: %s, Path: %s\n", pathErr.Op, pathErr.Disk, pathErr.Path)
//	}
package diskit
