package connectors

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// fileBackend abstracts the filesystem a filestore connector talks to.
type fileBackend interface {
	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)

	// Create opens a file for writing, creating parent directories as
	// needed. When append is true the file is opened at its end.
	Create(path string, append bool) (io.WriteCloser, error)

	// Close releases the backend connection.
	Close() error
}

type sftpParams struct {
	host     string
	port     int
	user     string
	password string
}

// openBackend builds the backend for a filestore connector configuration.
// An empty backend name means local.
func openBackend(name string, params sftpParams) (fileBackend, error) {
	switch name {
	case "", "local":
		return localBackend{}, nil
	case "sftp":
		return dialSFTP(params)
	default:
		return nil, fmt.Errorf("unknown filestore backend: %s", name)
	}
}

// localBackend reads and writes the local filesystem.
type localBackend struct{}

func (localBackend) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (localBackend) Create(path string, append bool) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	flags := os.O_CREATE | os.O_WRONLY
	if append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return os.OpenFile(path, flags, 0o644)
}

func (localBackend) Close() error { return nil }

// sftpBackend reads and writes a remote filesystem over SFTP.
type sftpBackend struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func dialSFTP(params sftpParams) (*sftpBackend, error) {
	if params.host == "" || params.user == "" {
		return nil, fmt.Errorf("sftp backend requires 'sftp_host' and 'sftp_user'")
	}
	port := params.port
	if port == 0 {
		port = 22
	}

	clientConfig := &ssh.ClientConfig{
		User:            params.user,
		Auth:            []ssh.AuthMethod{ssh.Password(params.password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	address := fmt.Sprintf("%s:%d", params.host, port)
	sshClient, err := ssh.Dial("tcp", address, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	return &sftpBackend{ssh: sshClient, sftp: sftpClient}, nil
}

func (b *sftpBackend) Open(filePath string) (io.ReadCloser, error) {
	return b.sftp.Open(filePath)
}

func (b *sftpBackend) Create(filePath string, append bool) (io.WriteCloser, error) {
	if dir := path.Dir(filePath); dir != "." && dir != "/" {
		if err := b.sftp.MkdirAll(dir); err != nil {
			return nil, err
		}
	}
	flags := os.O_CREATE | os.O_WRONLY
	if append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return b.sftp.OpenFile(filePath, flags)
}

func (b *sftpBackend) Close() error {
	err := b.sftp.Close()
	if cerr := b.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}
