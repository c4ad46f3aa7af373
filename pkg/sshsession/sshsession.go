// Package sshsession dispatches one accepted SSH connection: it completes
// the handshake, answers channel and subsystem requests, and wires an
// "sftp" subsystem request to a fresh SFTP request handler.
package sshsession

import (
	"log"
	"net"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"go.sftpd.dev/core/pkg/backend"
	"go.sftpd.dev/core/pkg/handle"
	"go.sftpd.dev/core/pkg/sftpd"
)

// Dispatcher owns the server-side SSH config and the backend every SFTP
// subsystem instance is bound to.
type Dispatcher struct {
	Config  *ssh.ServerConfig
	Backend backend.Backend
	Logger  *log.Logger
}

func (d *Dispatcher) logf(format string, args ...interface{}) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}

// Serve runs the handshake and request loop for one accepted net.Conn. It
// blocks until the connection closes.
func (d *Dispatcher) Serve(conn net.Conn) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, d.Config)
	if err != nil {
		d.logf("handshake with %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	defer sshConn.Close()
	d.logf("connection from %s authenticated as %q", conn.RemoteAddr(), sshConn.User())

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, channelReqs, err := newChan.Accept()
		if err != nil {
			d.logf("accepting channel from %s: %v", conn.RemoteAddr(), err)
			continue
		}
		go d.serveChannel(channel, channelReqs)
	}
}

func (d *Dispatcher) serveChannel(channel ssh.Channel, reqs <-chan *ssh.Request) {
	defer channel.Close()

	for req := range reqs {
		if req.Type != "subsystem" || string(req.Payload[4:]) != "sftp" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}
		if req.WantReply {
			req.Reply(true, nil)
		}
		d.serveSFTP(channel)
		return
	}
}

func (d *Dispatcher) serveSFTP(channel ssh.Channel) {
	handler := &sftpd.Handler{
		Backend: d.Backend,
		Handles: handle.New(),
		Logger:  d.Logger,
	}
	server := sftp.NewRequestServer(channel, handler.Handlers())
	if err := server.Serve(); err != nil {
		d.logf("sftp subsystem ended: %v", err)
	}
}
