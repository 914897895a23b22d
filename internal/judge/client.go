package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/codebattle/arena/internal/problem"
	"github.com/codebattle/arena/internal/util/httputil"
)

type ClientOptions struct {
	Endpoint string `toml:"endpoint"`
	Token    string `toml:"token"`
}

// client talks to a remote judging service over JSON HTTP.
type client struct {
	o      ClientOptions
	client *http.Client
}

func NewClient(o ClientOptions, httpClient *http.Client) Oracle {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &client{o: o, client: httpClient}
}

type judgeRequest struct {
	Submission  Submission         `json:"submission"`
	TestCases   []problem.TestCase `json:"test_cases"`
	MemoryLimit int64              `json:"memory_limit"`
}

type judgeResponse struct {
	Verdict Verdict `json:"verdict"`
}

func (c *client) Judge(ctx context.Context, p *problem.Problem, sub Submission) (Verdict, error) {
	data, err := json.Marshal(&judgeRequest{
		Submission:  sub,
		TestCases:   p.TestCases,
		MemoryLimit: p.MemoryLimit,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal json: %w", err)
	}
	hReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.o.Endpoint+"/judge", bytes.NewBuffer(data))
	if err != nil {
		return Verdict{}, fmt.Errorf("create request: %w", err)
	}
	hReq.Header.Add("Authorization", "Bearer "+c.o.Token)
	hReq.Header.Add("Content-Type", "application/json")
	hRsp, err := c.client.Do(hReq)
	if err != nil {
		return Verdict{}, fmt.Errorf("send request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, hRsp.Body)
		_ = hRsp.Body.Close()
	}()
	if err := httputil.ErrorFromResponse(hRsp); err != nil {
		return Verdict{}, fmt.Errorf("status: %w", err)
	}
	rspBytes, err := io.ReadAll(hRsp.Body)
	if err != nil {
		return Verdict{}, fmt.Errorf("read response: %w", err)
	}
	var rsp judgeResponse
	if err := json.Unmarshal(rspBytes, &rsp); err != nil {
		return Verdict{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return rsp.Verdict, nil
}
