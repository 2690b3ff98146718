package syncsdk

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/imroc/req/v3"
)

const (
	DefaultPollTimeout = 30 * time.Second
	maxPollTimeout     = 5 * time.Minute
	pollGrace          = 10 * time.Second
)

type MetadataAPI struct {
	client *req.Client
	// long polls outlive the regular request timeout
	poll *req.Client
}

func newMetadataAPI(client *req.Client) *MetadataAPI {
	return &MetadataAPI{
		client: client,
		poll:   client.Clone().SetTimeout(maxPollTimeout + pollGrace),
	}
}

// List returns the latest record of every path changed after jid
func (m *MetadataAPI) List(ctx context.Context, jid int64) (*syncmsg.ListResponse, error) {
	var result syncmsg.ListResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetQueryParam("jid", strconv.FormatInt(jid, 10)).
		SetSuccessResult(&result).
		Get(v1MetadataList)

	if err := handleAPIError(resp, err, "metadata list"); err != nil {
		return nil, err
	}
	return &result, nil
}

// Commit publishes a path version. A response with NeedChunks asks for those
// chunks before the commit can succeed. A path that moved past BaseJID on
// the server fails with ErrConflict.
func (m *MetadataAPI) Commit(ctx context.Context, params *syncmsg.CommitRequest) (*syncmsg.CommitResponse, error) {
	if params.Path == "" {
		return nil, &ValidationError{Field: "path", Reason: "empty"}
	}
	if !params.Deleted && params.Hash == "" {
		return nil, &ValidationError{Field: "hash", Reason: "empty"}
	}

	var result syncmsg.CommitResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&result).
		Post(v1MetadataCommit)

	if err := handleAPIError(resp, err, "metadata commit"); err != nil {
		return nil, err
	}
	return &result, nil
}

// Poll blocks until another client commits or the timeout passes.
// Timing out is not an error, it returns false.
func (m *MetadataAPI) Poll(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	timeout = min(timeout, maxPollTimeout)

	ctxPoll, cancel := context.WithTimeout(ctx, timeout+pollGrace)
	defer cancel()

	var result syncmsg.PollResponse
	resp, err := m.poll.R().
		SetContext(ctxPoll).
		SetQueryParam("seconds", strconv.Itoa(max(1, int(timeout.Seconds())))).
		SetSuccessResult(&result).
		Get(v1MetadataPoll)

	if err != nil && ctx.Err() == nil && errors.Is(ctxPoll.Err(), context.DeadlineExceeded) {
		return false, nil
	}
	if err := handleAPIError(resp, err, "metadata poll"); err != nil {
		return false, err
	}
	return result.Updated, nil
}
