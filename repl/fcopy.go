package repl

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"iot-gateway/ioterrors"
)

// textAllowedControl are the control bytes (< 0x20) that a text file is
// allowed to contain without being treated as binary: BEL, BS, TAB, LF,
// VT, FF. Anything else below 0x20 - including CR - flips a file to the
// hex-encoded binary transfer path.
var textAllowedControl = map[byte]bool{7: true, 8: true, 9: true, 10: true, 11: true, 12: true}

func isBinary(data []byte) bool {
	for _, b := range data {
		if b < 32 && !textAllowedControl[b] {
			return true
		}
	}
	return false
}

// FileSize returns the size in bytes of path on the device, or -1 if it
// does not exist.
func (e *Engine) FileSize(path string) (int64, error) {
	callExpr := fmt.Sprintf("_file_size(%s)", pyRepr(path))
	out, err := e.evalFuncValue(mcuFileSizeSource, callExpr, nil)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
}

// MakeDirs creates path and any missing parent directories on the device.
func (e *Engine) MakeDirs(path string) (bool, error) {
	callExpr := fmt.Sprintf("_makedirs(%s)", pyRepr(path))
	out, err := e.evalFuncValue(mcuMakedirsSource, callExpr, nil)
	if err != nil {
		return false, err
	}
	return string(out) == "True", nil
}

// RmRf removes path on the device; if recursive, descends into
// directories.
func (e *Engine) RmRf(path string, recursive bool) (bool, error) {
	callExpr := fmt.Sprintf("_rm_rf(%s, %s)", pyRepr(path), pyBool(recursive))
	out, err := e.evalFuncValue(mcuRmRfSource, callExpr, nil)
	if err != nil {
		return false, err
	}
	return string(out) == "True", nil
}

// Cat streams the contents of filename line by line to output.
func (e *Engine) Cat(output Output, filename string) error {
	callExpr := fmt.Sprintf("_cat(%s)", pyRepr(filename))
	return e.evalFuncStream(mcuCatSource, callExpr, output)
}

// FileGet downloads remoteFile from the device into localFile under
// hostDir. Returns false without error if remoteFile does not exist.
func (e *Engine) FileGet(remoteFile, localFile, hostDir string) (bool, error) {
	size, err := e.FileSize(remoteFile)
	if err != nil {
		return false, err
	}
	if size < 0 {
		return false, nil
	}

	callExpr := fmt.Sprintf("_mcu_read(%s, %s, %d)", pyRepr(remoteFile), pyRepr(localFile), size)
	xfer := func() error { return e.hostReceiveFile(localFile, hostDir, size) }
	if _, err := e.evalFuncValue(mcuReadSource, callExpr, xfer); err != nil {
		return false, err
	}
	return true, nil
}

// FilePut uploads localFile (resolved under hostDir) to remoteFile on the
// device. Returns false without error if localFile is a directory.
func (e *Engine) FilePut(localFile, remoteFile, hostDir string) (bool, error) {
	srcPath := filepath.Join(hostDir, localFile)
	info, err := os.Stat(srcPath)
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return false, err
	}
	binary := isBinary(data)
	filesize := info.Size()

	if _, err := e.MakeDirs(filepath.Dir(remoteFile)); err != nil {
		return false, err
	}

	callExpr := fmt.Sprintf("_mcu_write(%s, %s, %d, %s)", pyRepr(localFile), pyRepr(remoteFile), filesize, pyBool(binary))
	xfer := func() error { return e.hostSendFile(localFile, hostDir, filesize, binary) }
	if _, err := e.evalFuncValue(mcuWriteSource, callExpr, xfer); err != nil {
		return false, err
	}
	return true, nil
}

// hostSendFile is the host-side counterpart of _mcu_write: it streams
// localFile to the device in bufferSize-sized chunks (hex-doubled when
// binary), waiting for a single-byte ACK after each block.
func (e *Engine) hostSendFile(localFile, hostDir string, filesize int64, binary bool) error {
	ch := e.ch()
	f, err := os.Open(filepath.Join(hostDir, localFile))
	if err != nil {
		return err
	}
	defer f.Close()

	chunkSize := bufferSize
	if binary {
		chunkSize = bufferSize / 2
	}

	remaining := filesize
	buf := make([]byte, chunkSize)
	for remaining > 0 {
		readSize := int64(chunkSize)
		if remaining < readSize {
			readSize = remaining
		}
		n, err := io.ReadFull(f, buf[:readSize])
		if err != nil && err != io.ErrUnexpectedEOF {
			return err
		}
		chunk := buf[:n]
		if binary {
			encoded := make([]byte, hex.EncodedLen(n))
			hex.Encode(encoded, chunk)
			chunk = encoded
		}
		if err := ch.Write(chunk); err != nil {
			return wrapTransport(ch, err)
		}
		reply, err := ch.Read(1)
		if err != nil {
			return wrapTransport(ch, err)
		}
		if reply[0] != ack {
			return &ioterrors.ReplProtocolError{Detail: fmt.Sprintf("expected ack 0x06 from device, got 0x%02x", reply[0])}
		}
		remaining -= readSize
	}
	return nil
}

// hostReceiveFile is the host-side counterpart of _mcu_read: it reads
// filesize bytes from the device in bufferSize-sized blocks, ACKing each
// one, and writes them to localFile under hostDir.
func (e *Engine) hostReceiveFile(localFile, hostDir string, filesize int64) error {
	ch := e.ch()
	dstPath := filepath.Join(hostDir, localFile)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer f.Close()

	remaining := filesize
	for remaining > 0 {
		readSize := int64(bufferSize)
		if remaining < readSize {
			readSize = remaining
		}
		data, err := ch.Read(int(readSize))
		if err != nil {
			return wrapTransport(ch, err)
		}
		if _, err := f.Write(data); err != nil {
			return err
		}
		if err := ch.Write([]byte{ack}); err != nil {
			return wrapTransport(ch, err)
		}
		remaining -= readSize
	}
	return nil
}
