package blob

import (
	"github.com/pledgeflow/reconciler/internal/config"
	"go.uber.org/fx"
)

func NewStore(cfg config.Config) Store {
	root := cfg.BlobStoreRoot
	if root == "" {
		root = "./data/blobs"
	}
	return NewFilesystemStore(root)
}

var Module = fx.Module("providers.blob", fx.Provide(NewStore))
