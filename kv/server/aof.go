package server

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pingcap-incubator/tinyredis/kv/config"
	"github.com/pingcap-incubator/tinyredis/kv/util"
	"github.com/pingcap-incubator/tinyredis/kv/util/bio"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const defaultAOFBufferSize = 4096

// AppendOnlySink appends every propagated command to a file in the request
// encoding of the Redis protocol. A SELECT is written whenever the database
// changes. Fsyncs follow the configured policy: inline after every command
// for "always", at most once per second on the background worker for
// "everysec", never for "no".
type AppendOnlySink struct {
	path   string
	policy string
	file   *os.File
	w      *bufio.Writer
	bio    *bio.Bio
	buf    []byte

	selected  int
	size      uint64
	unsynced  bool
	lastFsync time.Time
	now       func() time.Time
	closed    bool
}

func OpenAppendOnly(path, policy string, bufferSize int, b *bio.Bio) (*AppendOnlySink, error) {
	switch policy {
	case config.FsyncAlways, config.FsyncEverySec, config.FsyncNo:
	default:
		return nil, errors.Errorf("invalid fsync policy %q", policy)
	}
	if dir := filepath.Dir(path); !util.DirExists(dir) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	var size uint64
	if util.FileExists(path) {
		var err error
		if size, err = util.GetFileSize(path); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Annotatef(err, "open append only file %s", path)
	}
	if bufferSize <= 0 {
		bufferSize = defaultAOFBufferSize
	}
	return &AppendOnlySink{
		path:      path,
		policy:    policy,
		file:      f,
		w:         bufio.NewWriterSize(f, bufferSize),
		bio:       b,
		selected:  -1,
		size:      size,
		lastFsync: time.Now(),
		now:       time.Now,
	}, nil
}

func (a *AppendOnlySink) Propagate(db int, argv [][]byte) error {
	if a.closed {
		return ErrSinkClosed
	}
	if db != a.selected {
		if err := a.write([][]byte{[]byte("SELECT"), []byte(strconv.Itoa(db))}); err != nil {
			return err
		}
		a.selected = db
	}
	return a.write(argv)
}

func (a *AppendOnlySink) write(argv [][]byte) error {
	a.buf = encodeCommand(a.buf[:0], argv)
	n, err := a.w.Write(a.buf)
	a.size += uint64(n)
	return errors.WithStack(err)
}

// Flush writes buffered commands to the file and fsyncs it as the policy
// asks. An everysec fsync is postponed while the previous one is still
// running.
func (a *AppendOnlySink) Flush() error {
	if a.closed {
		return nil
	}
	if err := a.flushBuffer(); err != nil {
		return err
	}
	if !a.unsynced {
		return nil
	}
	switch a.policy {
	case config.FsyncAlways:
		if err := a.file.Sync(); err != nil {
			return errors.WithStack(err)
		}
		a.unsynced = false
		a.lastFsync = a.now()
	case config.FsyncEverySec:
		now := a.now()
		if now.Sub(a.lastFsync) < time.Second {
			return nil
		}
		if a.bio.Pending(bio.Fsync) > 0 {
			log.Debug("background fsync in progress, postponing", zap.String("path", a.path))
			return nil
		}
		if err := a.bio.Submit(bio.Fsync, a.file); err != nil {
			return err
		}
		a.unsynced = false
		a.lastFsync = now
	}
	return nil
}

func (a *AppendOnlySink) flushBuffer() error {
	if a.w.Buffered() == 0 {
		return nil
	}
	if err := a.w.Flush(); err != nil {
		return errors.WithStack(err)
	}
	a.unsynced = true
	return nil
}

// Size returns the length of the file including buffered commands.
func (a *AppendOnlySink) Size() uint64 {
	return a.size
}

func (a *AppendOnlySink) Path() string {
	return a.path
}

// Close flushes and syncs the file, then hands it to the background worker
// to be closed.
func (a *AppendOnlySink) Close() error {
	if a.closed {
		return nil
	}
	err := a.flushBuffer()
	if a.policy != config.FsyncNo {
		a.bio.WaitPendingLE(bio.Fsync, 0)
		if syncErr := a.file.Sync(); syncErr != nil && err == nil {
			err = errors.WithStack(syncErr)
		}
	}
	a.closed = true
	if submitErr := a.bio.Submit(bio.CloseFile, a.file); submitErr != nil {
		a.file.Close()
	}
	return err
}

// LoadAppendOnly feeds every command stored in path to fn and returns how
// many were read. A missing file is empty. An incomplete command at the end
// of the file is cut off with a warning.
func LoadAppendOnly(path string, fn func(argv [][]byte)) (int, error) {
	if !util.FileExists(path) {
		return 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var (
		n      int
		offset int64
	)
	for {
		argv, err := readCommand(r)
		if err == io.EOF {
			return n, nil
		}
		if err == io.ErrUnexpectedEOF {
			log.Warn("append only file ends with an incomplete command, truncating",
				zap.String("path", path),
				zap.Int("commands", n),
				zap.Int64("offset", offset))
			return n, errors.WithStack(os.Truncate(path, offset))
		}
		if err != nil {
			return n, errors.Annotatef(err, "bad append only file %s after %d commands", path, n)
		}
		fn(argv)
		n++
		offset += int64(encodedLen(argv))
	}
}

// encodeCommand appends argv to buf as a protocol multi bulk request.
func encodeCommand(buf []byte, argv [][]byte) []byte {
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(argv)), 10)
	buf = append(buf, '\r', '\n')
	for _, arg := range argv {
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(arg)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, arg...)
		buf = append(buf, '\r', '\n')
	}
	return buf
}

func encodedLen(argv [][]byte) int {
	n := 1 + len(strconv.Itoa(len(argv))) + 2
	for _, arg := range argv {
		n += 1 + len(strconv.Itoa(len(arg))) + 2 + len(arg) + 2
	}
	return n
}

// readCommand reads one multi bulk request. It returns io.EOF at a clean
// end of input and io.ErrUnexpectedEOF inside a request.
func readCommand(r *bufio.Reader) ([][]byte, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[0] != '*' {
		return nil, errors.Errorf("expected multi bulk header, got %q", line)
	}
	argc, err := strconv.Atoi(string(line[1:]))
	if err != nil || argc < 1 {
		return nil, errors.Errorf("invalid multi bulk length %q", line)
	}
	argv := make([][]byte, argc)
	for i := range argv {
		line, err := readLine(r)
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		if len(line) < 2 || line[0] != '$' {
			return nil, errors.Errorf("expected bulk header, got %q", line)
		}
		size, err := strconv.Atoi(string(line[1:]))
		if err != nil || size < 0 {
			return nil, errors.Errorf("invalid bulk length %q", line)
		}
		arg := make([]byte, size+2)
		if _, err := io.ReadFull(r, arg); err != nil {
			return nil, unexpectedEOF(err)
		}
		if arg[size] != '\r' || arg[size+1] != '\n' {
			return nil, errors.New("bulk is not terminated by CRLF")
		}
		argv[i] = arg[:size]
	}
	return argv, nil
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, errors.New("line is not terminated by CRLF")
	}
	return line[:len(line)-2], nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
