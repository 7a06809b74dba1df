// Command demo drives the stores end to end in guest mode: it fetches the
// catalog, fills a locally-backed cart and prints the derived totals.
package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"shopez/internal/cart"
	"shopez/internal/catalog"
	"shopez/internal/config"
	"shopez/internal/localstore"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "[demo] ", log.LstdFlags)

	local, err := localstore.Open(cfg.LocalDBPath)
	if err != nil {
		logger.Fatalf("open local store: %v", err)
	}

	// Guest mode never touches the remote store, so none is wired.
	cartStore := cart.New(nil, local, logger)
	cartStore.SetIdentity(nil)

	ctx := context.Background()
	products, err := catalog.New(cfg.CatalogBaseURL, nil).ListProducts(ctx)
	if err != nil {
		logger.Fatalf("fetch catalog: %v", err)
	}
	if len(products) == 0 {
		logger.Fatal("catalog returned no products")
	}

	for _, p := range products[:min(2, len(products))] {
		if err := cartStore.AddToCart(ctx, p); err != nil {
			logger.Fatalf("add %s: %v", p.ID, err)
		}
	}
	// Second unit of the first product bumps its quantity.
	if err := cartStore.AddToCart(ctx, products[0]); err != nil {
		logger.Fatalf("add %s again: %v", products[0].ID, err)
	}

	for _, item := range cartStore.Items() {
		logger.Printf("%s x%d  %.2f  (%s)", item.Title, item.Quantity, item.Price, item.ID)
	}
	logger.Printf("total items: %d, total price: %.2f", cartStore.TotalItems(), cartStore.TotalPrice())
}
