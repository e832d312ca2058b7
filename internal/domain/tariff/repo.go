package tariff

import "context"

type Repository interface {
	CreateBundle(ctx context.Context, b *ServiceBundle) error
	GetBundle(ctx context.Context, id int64) (*ServiceBundle, error)
	ListBundles(ctx context.Context, activeOnly bool) ([]*ServiceBundle, error)
	AddComponent(ctx context.Context, c *BundleComponent) error
	GetComponent(ctx context.Context, id int64) (*BundleComponent, error)
	ListComponents(ctx context.Context, bundleID int64) ([]*BundleComponent, error)
}
