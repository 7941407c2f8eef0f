package control

import (
	"context"

	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

// Caller is the part of dbus.BusObject the client needs.
type Caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Client calls a running daemon's control service.
type Client struct {
	obj Caller
}

// Dial connects to the control service named name on the session bus.
func Dial(name string) (*Client, func(), error) {
	if name == "" {
		name = DefaultName
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, nil, errors.Wrap(err, "control: connect session bus")
	}
	return NewClient(conn.Object(name, ObjectPath)), func() { conn.Close() }, nil
}

func NewClient(obj Caller) *Client {
	return &Client{obj: obj}
}

// Invoke calls a method that returns nothing.
func (c *Client) Invoke(ctx context.Context, method string, args ...interface{}) error {
	if call := c.obj.CallWithContext(ctx, Interface+"."+method, 0, args...); call.Err != nil {
		return errors.Wrap(call.Err, method)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (map[string]string, error) {
	var status map[string]string
	call := c.obj.CallWithContext(ctx, Interface+".GetStatus", 0)
	if call.Err != nil {
		return nil, errors.Wrap(call.Err, "GetStatus")
	}
	if err := call.Store(&status); err != nil {
		return nil, errors.Wrap(err, "GetStatus: decode")
	}
	return status, nil
}
