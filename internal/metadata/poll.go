package metadata

import (
	"context"
	"fmt"
	"time"
)

// Poller drives fixed-interval polling of an async remote job with an upper
// bound on total wait.
type Poller struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// DefaultPoller matches the remote's recommended status-check cadence.
var DefaultPoller = Poller{Interval: 2 * time.Second, MaxWait: 10 * time.Minute}

// WaitRetrieve polls a retrieve job until done, timeout, or ctx cancellation.
func (p Poller) WaitRetrieve(ctx context.Context, api API, id string) (*RetrieveResult, error) {
	deadline := time.Now().Add(p.MaxWait)
	for {
		res, err := api.CheckRetrieveStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if res.Done {
			return res, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("retrieve %s: timed out after %s", id, p.MaxWait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.Interval):
		}
	}
}

// WaitDeploy polls a deploy job until done, timeout, or ctx cancellation.
func (p Poller) WaitDeploy(ctx context.Context, api API, id string) (*DeployResult, error) {
	deadline := time.Now().Add(p.MaxWait)
	for {
		res, err := api.CheckDeployStatus(ctx, id, true)
		if err != nil {
			return nil, err
		}
		if res.Done {
			return res, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("deploy %s: timed out after %s", id, p.MaxWait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.Interval):
		}
	}
}
