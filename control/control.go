// Package control exposes the renderer's control path over OSC. Two
// addresses are served: /binaural/filter selects a filter for a
// channel, /binaural/sound drives sound playback. Malformed messages
// and rejected commands are logged and dropped; the receiver never
// stops serving because of a bad packet.
package control

import (
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/hypebeast/go-osc/osc"

	"github.com/cwbudde/algo-binaural/filter"
	"github.com/cwbudde/algo-binaural/sound"
)

// OSC addresses served by the receiver.
const (
	FilterAddress = "/binaural/filter"
	SoundAddress  = "/binaural/sound"
)

// Errors returned while decoding messages.
var (
	ErrBadMessage = errors.New("control: malformed message")
)

// Surface is the control side of the renderer the receiver drives.
type Surface interface {
	SetFilter(channel int, key filter.Key) error
	SoundCommand(id string, cmd sound.Command, channel int) error
}

// Receiver listens for OSC packets on a UDP socket and forwards them
// to a Surface.
type Receiver struct {
	surface Surface
	conn    net.PacketConn
	server  *osc.Server
}

// NewReceiver binds a UDP socket on addr and prepares the dispatcher.
// Call Serve to start handling packets.
func NewReceiver(addr string, surface Surface) (*Receiver, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("control: listen %s: %w", addr, err)
	}

	r := &Receiver{surface: surface, conn: conn}

	d := osc.NewStandardDispatcher()
	if err := d.AddMsgHandler(FilterAddress, r.handleFilter); err != nil {
		conn.Close()
		return nil, fmt.Errorf("control: register %s: %w", FilterAddress, err)
	}
	if err := d.AddMsgHandler(SoundAddress, r.handleSound); err != nil {
		conn.Close()
		return nil, fmt.Errorf("control: register %s: %w", SoundAddress, err)
	}

	r.server = &osc.Server{Addr: addr, Dispatcher: d}
	return r, nil
}

// Serve handles packets until Close. It always returns a non-nil
// error; after Close that error reports the closed socket.
func (r *Receiver) Serve() error {
	return r.server.Serve(r.conn)
}

// Close shuts the socket down and unblocks Serve.
func (r *Receiver) Close() error {
	return r.conn.Close()
}

// Addr returns the bound UDP address.
func (r *Receiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

func (r *Receiver) handleFilter(msg *osc.Message) {
	channel, key, err := decodeFilter(msg)
	if err != nil {
		log.Printf("control: %s: %v", FilterAddress, err)
		return
	}
	if err := r.surface.SetFilter(channel, key); err != nil {
		log.Printf("control: filter %q on channel %d: %v", key, channel, err)
	}
}

func (r *Receiver) handleSound(msg *osc.Message) {
	id, cmd, channel, err := decodeSound(msg)
	if err != nil {
		log.Printf("control: %s: %v", SoundAddress, err)
		return
	}
	if err := r.surface.SoundCommand(id, cmd, channel); err != nil {
		log.Printf("control: sound %q %s: %v", id, cmd, err)
	}
}

// decodeFilter expects integer arguments: the channel followed by at
// least one filter key value.
func decodeFilter(msg *osc.Message) (int, filter.Key, error) {
	if len(msg.Arguments) < 2 {
		return 0, "", fmt.Errorf("%w: want channel and key values, got %d arguments",
			ErrBadMessage, len(msg.Arguments))
	}

	channel, err := argInt(msg.Arguments[0])
	if err != nil {
		return 0, "", fmt.Errorf("%w: channel: %v", ErrBadMessage, err)
	}

	values := make([]int, len(msg.Arguments)-1)
	for i, a := range msg.Arguments[1:] {
		v, err := argInt(a)
		if err != nil {
			return 0, "", fmt.Errorf("%w: key value %d: %v", ErrBadMessage, i, err)
		}
		values[i] = v
	}

	return channel, filter.KeyOf(values...), nil
}

// decodeSound expects a sound id, a command word and an optional
// channel. Without a channel the sound keeps its current binding.
func decodeSound(msg *osc.Message) (string, sound.Command, int, error) {
	if len(msg.Arguments) < 2 || len(msg.Arguments) > 3 {
		return "", 0, 0, fmt.Errorf("%w: want id, command and optional channel, got %d arguments",
			ErrBadMessage, len(msg.Arguments))
	}

	id, ok := msg.Arguments[0].(string)
	if !ok || id == "" {
		return "", 0, 0, fmt.Errorf("%w: sound id must be a non-empty string", ErrBadMessage)
	}

	word, ok := msg.Arguments[1].(string)
	if !ok {
		return "", 0, 0, fmt.Errorf("%w: command must be a string", ErrBadMessage)
	}
	cmd, err := sound.ParseCommand(word)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	channel := -1
	if len(msg.Arguments) == 3 {
		if channel, err = argInt(msg.Arguments[2]); err != nil {
			return "", 0, 0, fmt.Errorf("%w: channel: %v", ErrBadMessage, err)
		}
	}

	return id, cmd, channel, nil
}

// argInt accepts the integer widths OSC clients actually send.
func argInt(a any) (int, error) {
	switch v := a.(type) {
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("got %T, want integer", a)
	}
}
