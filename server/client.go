package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls an intcode server. It speaks JSON unless a different codec
// is passed in opts, e.g. connect.WithCodec(CBORCodec{}).
type Client struct {
	run      *connect.Client[RunRequest, RunResponse]
	feedback *connect.Client[FeedbackRequest, FeedbackResponse]
	stream   *connect.Client[RunRequest, StreamMessage]
	list     *connect.Client[ListRunsRequest, ListRunsResponse]
	get      *connect.Client[GetRunRequest, RunSummary]
}

// NewClient creates a Client for the server at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	base := strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &Client{
		run:      connect.NewClient[RunRequest, RunResponse](httpClient, base+RunProcedure, opts...),
		feedback: connect.NewClient[FeedbackRequest, FeedbackResponse](httpClient, base+RunFeedbackProcedure, opts...),
		stream:   connect.NewClient[RunRequest, StreamMessage](httpClient, base+StreamProcedure, opts...),
		list:     connect.NewClient[ListRunsRequest, ListRunsResponse](httpClient, base+ListRunsProcedure, opts...),
		get:      connect.NewClient[GetRunRequest, RunSummary](httpClient, base+GetRunProcedure, opts...),
	}
}

func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp, err := c.run.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) RunFeedback(ctx context.Context, req *FeedbackRequest) (*FeedbackResponse, error) {
	resp, err := c.feedback.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Stream runs req and calls fn for every output as it arrives.
func (c *Client) Stream(ctx context.Context, req *RunRequest, fn func(*StreamMessage) error) error {
	stream, err := c.stream.CallServerStream(ctx, connect.NewRequest(req))
	if err != nil {
		return err
	}
	defer stream.Close()
	for stream.Receive() {
		if err := fn(stream.Msg()); err != nil {
			return err
		}
	}
	return stream.Err()
}

func (c *Client) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	resp, err := c.list.CallUnary(ctx, connect.NewRequest(&ListRunsRequest{Limit: limit}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Runs, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*RunSummary, error) {
	resp, err := c.get.CallUnary(ctx, connect.NewRequest(&GetRunRequest{RunID: id}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
