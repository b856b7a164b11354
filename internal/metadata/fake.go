package metadata

import "context"

// Fake is a scriptable API implementation for tests. Unset funcs return
// empty results.
type Fake struct {
	ListFunc                func(ctx context.Context, componentType, folder string) ([]ListedComponent, error)
	RetrieveFunc            func(ctx context.Context, pkg Package) (string, error)
	CheckRetrieveStatusFunc func(ctx context.Context, id string) (*RetrieveResult, error)
	DeployFunc              func(ctx context.Context, zipBase64 string, opts DeployOptions) (string, error)
	CheckDeployStatusFunc   func(ctx context.Context, id string, includeDetails bool) (*DeployResult, error)
}

func (f *Fake) List(ctx context.Context, componentType, folder string) ([]ListedComponent, error) {
	if f.ListFunc == nil {
		return nil, nil
	}
	return f.ListFunc(ctx, componentType, folder)
}

func (f *Fake) Retrieve(ctx context.Context, pkg Package) (string, error) {
	if f.RetrieveFunc == nil {
		return "fake-retrieve", nil
	}
	return f.RetrieveFunc(ctx, pkg)
}

func (f *Fake) CheckRetrieveStatus(ctx context.Context, id string) (*RetrieveResult, error) {
	if f.CheckRetrieveStatusFunc == nil {
		return &RetrieveResult{Done: true, Status: "Succeeded"}, nil
	}
	return f.CheckRetrieveStatusFunc(ctx, id)
}

func (f *Fake) Deploy(ctx context.Context, zipBase64 string, opts DeployOptions) (string, error) {
	if f.DeployFunc == nil {
		return "fake-deploy", nil
	}
	return f.DeployFunc(ctx, zipBase64, opts)
}

func (f *Fake) CheckDeployStatus(ctx context.Context, id string, includeDetails bool) (*DeployResult, error) {
	if f.CheckDeployStatusFunc == nil {
		return &DeployResult{ID: id, Done: true, Success: true}, nil
	}
	return f.CheckDeployStatusFunc(ctx, id, includeDetails)
}
