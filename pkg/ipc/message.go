package ipc

import (
	"fmt"
	"io"
	"net"
	"syscall"
)

// MessageKind tags a frame on the RRDP channel between the orchestrator and
// the rrdp and http workers.
type MessageKind uint8

const (
	MsgStart MessageKind = iota
	MsgSession
	MsgFile
	MsgEnd
	MsgHTTPReq
	MsgHTTPIni
	MsgHTTPFin
)

func (k MessageKind) String() string {
	switch k {
	case MsgStart:
		return "START"
	case MsgSession:
		return "SESSION"
	case MsgFile:
		return "FILE"
	case MsgEnd:
		return "END"
	case MsgHTTPReq:
		return "HTTP_REQ"
	case MsgHTTPIni:
		return "HTTP_INI"
	case MsgHTTPFin:
		return "HTTP_FIN"
	default:
		return "unknown"
	}
}

// WriteKind writes a single message-kind byte, the first thing on every
// frame so the reader knows how to decode what follows.
func WriteKind(w io.Writer, k MessageKind) error {
	return WriteSimple(w, uint8(k))
}

// ReadKind decodes a message-kind byte.
func ReadKind(r io.Reader) (MessageKind, error) {
	v, err := ReadSimple[uint8](r)
	return MessageKind(v), err
}

// SendFD hands an open file descriptor to a peer over a Unix domain socket,
// the out-of-band path used only for passing an HTTP response body
// descriptor from the http worker to the rrdp worker (spec's "fd" primitive).
// payload is an ordinary framed buf sent alongside the descriptor so the
// receiver learns which request the fd answers.
func SendFD(conn *net.UnixConn, payload []byte, fd uintptr) error {
	rights := syscall.UnixRights(int(fd))
	n, oobn, err := conn.WriteMsgUnix(payload, rights, nil)
	if err != nil {
		return fmt.Errorf("ipc: send fd: %w", err)
	}
	if n != len(payload) || oobn != len(rights) {
		return fmt.Errorf("ipc: send fd: short write (data %d/%d, oob %d/%d)", n, len(payload), oobn, len(rights))
	}
	return nil
}

// ReceiveFD reads a payload plus exactly one passed file descriptor. The
// caller owns the returned fd and must close it.
func ReceiveFD(conn *net.UnixConn, payloadLen int) ([]byte, uintptr, error) {
	payload := make([]byte, payloadLen)
	oob := make([]byte, syscall.CmsgSpace(4))

	n, oobn, _, _, err := conn.ReadMsgUnix(payload, oob)
	if err != nil {
		return nil, 0, fmt.Errorf("ipc: receive fd: %w", err)
	}

	cmsgs, err := syscall.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, 0, fmt.Errorf("ipc: receive fd: parse control message: %w", err)
	}
	if len(cmsgs) == 0 {
		return nil, 0, fmt.Errorf("ipc: receive fd: no control message in datagram")
	}
	fds, err := syscall.ParseUnixRights(&cmsgs[0])
	if err != nil {
		return nil, 0, fmt.Errorf("ipc: receive fd: parse rights: %w", err)
	}
	if len(fds) != 1 {
		return nil, 0, fmt.Errorf("ipc: receive fd: expected exactly one fd, got %d", len(fds))
	}

	return payload[:n], uintptr(fds[0]), nil
}
