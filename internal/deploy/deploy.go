// Package deploy retrieves an operator-selected manifest from the source
// environment, repackages it, and submits it as a deploy job against the
// target. Submission returns a job handle; job completion is the remote's
// business and is only ever observed by polling.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mdsync/mdsync/internal/archive"
	"github.com/mdsync/mdsync/internal/metadata"
	"github.com/mdsync/mdsync/internal/store"
)

// ErrEmptyManifest is returned when submission is attempted with no
// components selected.
var ErrEmptyManifest = errors.New("deployment manifest is empty")

// defaultTestLevel is the sentinel meaning "let the remote decide".
const defaultTestLevel = "Default"

// testLevelSpecified requires an explicit test name list.
const testLevelSpecified = "RunSpecifiedTests"

// Options control a submission.
type Options struct {
	CheckOnly bool
	TestLevel string
	RunTests  []string
}

// UpdateFunc receives progress milestones during the retrieve-and-submit
// phase.
type UpdateFunc func(action string, percent int)

// Orchestrator drives the retrieve → repackage → deploy cycle.
type Orchestrator struct {
	Store      *store.Store
	APIVersion string
	Poller     metadata.Poller
}

// Submit retrieves exactly the manifest subset from source, repackages it,
// and submits it to target. It returns the remote job id as soon as the
// deploy is accepted; it does not wait for the deployment to finish.
func (o *Orchestrator) Submit(ctx context.Context, source, target metadata.API, manifest map[string][]string, opts Options, update UpdateFunc) (string, error) {
	if update == nil {
		update = func(string, int) {}
	}

	pkg, count := buildPackage(manifest, o.APIVersion)
	if count == 0 {
		return "", ErrEmptyManifest
	}

	update("Retrieving Package...", 20)
	reqID, err := source.Retrieve(ctx, pkg)
	if err != nil {
		return "", fmt.Errorf("submit retrieve: %w", err)
	}
	res, err := o.Poller.WaitRetrieve(ctx, source, reqID)
	if err != nil {
		return "", err
	}
	if !res.Succeeded() {
		return "", fmt.Errorf("retrieve %s finished with status %q", reqID, res.Status)
	}

	update("Preparing...", 50)
	payload, err := archive.Repack(res.ZipFile)
	if err != nil {
		return "", fmt.Errorf("repackage: %w", err)
	}

	deployOpts := metadata.DeployOptions{
		CheckOnly:       opts.CheckOnly,
		RollbackOnError: true,
		SinglePackage:   true,
	}
	if opts.TestLevel != "" && opts.TestLevel != defaultTestLevel {
		deployOpts.TestLevel = opts.TestLevel
		if opts.TestLevel == testLevelSpecified {
			deployOpts.RunTests = opts.RunTests
		}
	}

	update("Uploading to Target...", 80)
	jobID, err := target.Deploy(ctx, payload, deployOpts)
	if err != nil {
		return "", fmt.Errorf("submit deploy: %w", err)
	}
	update("Processing...", 90)

	audit := &store.Deployment{
		ID:             uuid.New().String(),
		JobID:          jobID,
		SubmittedAt:    time.Now(),
		CheckOnly:      opts.CheckOnly,
		TestLevel:      opts.TestLevel,
		ComponentCount: count,
	}
	if err := o.Store.RecordDeployment(audit); err != nil {
		// The job is already running remotely; keep the handle.
		slog.Warn("deployment audit write failed", "job", jobID, "error", err)
	}

	slog.Info("deployment submitted", "job", jobID, "components", count, "checkOnly", opts.CheckOnly)
	return jobID, nil
}

// Status reads the live job state from the remote. Results are never
// cached; every call is delegated.
func (o *Orchestrator) Status(ctx context.Context, target metadata.API, jobID string) (*metadata.DeployResult, error) {
	res, err := target.CheckDeployStatus(ctx, jobID, true)
	if err != nil {
		return nil, fmt.Errorf("check deploy status %s: %w", jobID, err)
	}
	return res, nil
}

// buildPackage renders the manifest as a retrieve package with types in
// stable order, and counts selected members.
func buildPackage(manifest map[string][]string, version string) (metadata.Package, int) {
	types := make([]string, 0, len(manifest))
	for t := range manifest {
		types = append(types, t)
	}
	sort.Strings(types)

	pkg := metadata.Package{Version: version}
	count := 0
	for _, t := range types {
		members := manifest[t]
		if len(members) == 0 {
			continue
		}
		pkg.Types = append(pkg.Types, metadata.PackageType{Name: t, Members: members})
		count += len(members)
	}
	return pkg, count
}
