package server

import (
	"context"

	"github.com/jrsteele09/neuroscan-portal/restapi"
)

// PortalAPI is the REST backend as the pages use it. *restapi.Client satisfies it.
type PortalAPI interface {
	Login(ctx context.Context, email, password string) (*restapi.Tokens, error)
	Signup(ctx context.Context, email, password string) (string, error)
	MagicLink(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, email string) (string, error)
	Me(ctx context.Context) (*restapi.User, error)
	Logout(ctx context.Context) error
	History(ctx context.Context, userID string) ([]restapi.HistoryEntry, error)
	Slice2D(ctx context.Context, fmriID string, sliceIndex int) (*restapi.Slice2D, error)
	Volume3D(ctx context.Context, fmriID string) (*restapi.VolumeFile, error)
	ModelPrediction(ctx context.Context, fmriID string) (*restapi.Prediction, error)
	DeleteTempFiles(ctx context.Context) error
	Upload(ctx context.Context, upload restapi.UploadRequest) (*restapi.UploadResult, error)
	ResolveURL(path string) string
}

var _ PortalAPI = (*restapi.Client)(nil)
