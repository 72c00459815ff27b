package mongo

import (
	"context"
	"time"

	"github.com/ovasilenko/coin-auctions/internal/domain"
	"github.com/ovasilenko/coin-auctions/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// CatalogRepository reads the storefront's product documents. The auction
// core touches it exactly once per lot, at creation, to take the snapshot.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("products"),
		logger: logger,
	}
}

type ProductDoc struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description"`
	ImageURL    string    `bson:"image_url"`
	Category    string    `bson:"category"` // e.g. "coin", "note"
	Price       int64     `bson:"price"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (c *CatalogRepository) GetProduct(ctx context.Context, id string) (*ProductDoc, error) {
	var product ProductDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&product)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get product", err)
		return nil, err
	}
	return &product, nil
}

// Snapshot converts the catalog document into the denormalized form stored
// on the auction record.
func (p *ProductDoc) Snapshot() domain.ProductSnapshot {
	return domain.ProductSnapshot{
		ProductID: p.ID,
		Name:      p.Name,
		ImageURL:  p.ImageURL,
		Category:  p.Category,
		ListPrice: p.Price,
	}
}

// GetProductSnapshot is the read the auction service performs at lot
// creation.
func (c *CatalogRepository) GetProductSnapshot(ctx context.Context, id string) (domain.ProductSnapshot, error) {
	product, err := c.GetProduct(ctx, id)
	if err != nil {
		return domain.ProductSnapshot{}, err
	}
	return product.Snapshot(), nil
}

func (c *CatalogRepository) CreateProduct(ctx context.Context, product ProductDoc) error {
	product.CreatedAt = time.Now()
	product.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, product)
	if err != nil {
		c.logger.Error("failed to create product", err)
		return err
	}
	return nil
}
