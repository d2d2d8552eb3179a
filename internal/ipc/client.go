package ipc

import (
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"mediaflow/internal/template"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.call("Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkflowStart instantiates a template against an asset.
func (c *Client) WorkflowStart(templateID, assetID string) (*WorkflowResponse, error) {
	var resp WorkflowResponse
	if err := c.call("WorkflowStart", WorkflowStartRequest{Template: templateID, Asset: assetID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkflowList returns workflows matching the request filter.
func (c *Client) WorkflowList(req WorkflowListRequest) (*WorkflowListResponse, error) {
	var resp WorkflowListResponse
	if err := c.call("WorkflowList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkflowShow returns a single workflow snapshot.
func (c *Client) WorkflowShow(id string) (*WorkflowResponse, error) {
	var resp WorkflowResponse
	if err := c.call("WorkflowShow", WorkflowRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkflowControl applies cancel, pause, resume, retry or archive to a workflow.
func (c *Client) WorkflowControl(action, id string) (*WorkflowControlResponse, error) {
	method, ok := controlMethods[action]
	if !ok {
		return nil, fmt.Errorf("unknown workflow action %q", action)
	}
	var resp WorkflowControlResponse
	if err := c.call(method, WorkflowRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

var controlMethods = map[string]string{
	"cancel":  "WorkflowCancel",
	"pause":   "WorkflowPause",
	"resume":  "WorkflowResume",
	"retry":   "WorkflowRetry",
	"archive": "WorkflowArchive",
}

// TemplateList returns the registered templates.
func (c *Client) TemplateList() (*TemplateListResponse, error) {
	var resp TemplateListResponse
	if err := c.call("TemplateList", TemplateListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TemplateShow returns the full definition of a template.
func (c *Client) TemplateShow(id string) (*TemplateShowResponse, error) {
	var resp TemplateShowResponse
	if err := c.call("TemplateShow", TemplateShowRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TemplateRegister validates and registers a template.
func (c *Client) TemplateRegister(tpl template.Template) (*TemplateRegisterResponse, error) {
	var resp TemplateRegisterResponse
	if err := c.call("TemplateRegister", TemplateRegisterRequest{Template: tpl}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events reads events after a cursor, optionally waiting for new ones.
func (c *Client) Events(req EventsRequest) (*EventsResponse, error) {
	var resp EventsResponse
	if err := c.call("Events", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(ServiceName+"."+method, req, resp)
}
