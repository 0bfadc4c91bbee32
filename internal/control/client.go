package control

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-fillers/internal/protocol"
)

// Requester is satisfied by *bus.Client.
type Requester interface {
	RequestJSON(ctx context.Context, subject string, req, resp any) error
}

// Client issues control requests to a running daemon.
type Client struct {
	req Requester
}

func NewClient(req Requester) *Client {
	return &Client{req: req}
}

// Call sends req on subject. A response with OK unset is returned as an error.
func (c *Client) Call(ctx context.Context, subject string, req protocol.ControlRequest) (protocol.ControlResponse, error) {
	var resp protocol.ControlResponse
	if err := c.req.RequestJSON(ctx, subject, req, &resp); err != nil {
		return resp, err
	}
	if !resp.OK {
		if resp.Error == "" {
			resp.Error = "request failed"
		}
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

func (c *Client) Start(ctx context.Context, speaker, device string) (protocol.ControlResponse, error) {
	return c.Call(ctx, protocol.SubjectControlStart, protocol.ControlRequest{Speaker: speaker, Device: device})
}

func (c *Client) Stop(ctx context.Context) (protocol.ControlResponse, error) {
	return c.Call(ctx, protocol.SubjectControlStop, protocol.ControlRequest{})
}

func (c *Client) AddSpeaker(ctx context.Context, speaker string) (protocol.ControlResponse, error) {
	return c.Call(ctx, protocol.SubjectControlAdd, protocol.ControlRequest{Speaker: speaker})
}

func (c *Client) SwitchSpeaker(ctx context.Context, speaker string) (protocol.ControlResponse, error) {
	return c.Call(ctx, protocol.SubjectControlSwitch, protocol.ControlRequest{Speaker: speaker})
}

func (c *Client) Reset(ctx context.Context) (protocol.ControlResponse, error) {
	return c.Call(ctx, protocol.SubjectControlReset, protocol.ControlRequest{})
}

func (c *Client) Results(ctx context.Context) (protocol.ControlResponse, error) {
	return c.Call(ctx, protocol.SubjectControlResults, protocol.ControlRequest{})
}

func (c *Client) Status(ctx context.Context) (protocol.ControlResponse, error) {
	return c.Call(ctx, protocol.SubjectControlStatus, protocol.ControlRequest{})
}

func (c *Client) Devices(ctx context.Context) (protocol.ControlResponse, error) {
	return c.Call(ctx, protocol.SubjectControlDevices, protocol.ControlRequest{})
}
