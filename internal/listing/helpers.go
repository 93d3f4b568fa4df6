package listing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"marketplace/internal/chain"
	"marketplace/internal/models"

	"github.com/shopspring/decimal"
)

// listKey identifies a List intent: the same account listing the same asset
// under the same name and price
func listKey(account string, req ListRequest) string {
	h := sha256.New()
	h.Write(req.Asset)
	h.Write([]byte{0})
	h.Write([]byte(req.Name))
	h.Write([]byte{0})
	h.Write([]byte(req.Price.String()))
	return "list:" + account + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

func validateListRequest(req ListRequest, artifacts models.Artifacts) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("%w: name is required", models.ErrInvalidInput)
	}
	if !req.Price.IsPositive() {
		return fmt.Errorf("%w: price must be greater than zero", models.ErrInvalidInput)
	}
	if len(req.Asset) == 0 && artifacts.ImageLocator == "" && artifacts.MetadataLocator == "" {
		return fmt.Errorf("%w: asset is required", models.ErrInvalidInput)
	}
	return nil
}

// priorHandle rebuilds the transaction handle of a journaled workflow
func priorHandle(prior *models.WorkflowRecord, method chain.Method) chain.TransactionHandle {
	price, _ := decimal.NewFromString(prior.Input.Price)
	return chain.TransactionHandle{
		TxHash:    prior.Artifacts.TxHash,
		Method:    method,
		Account:   prior.Account,
		ListingID: prior.Input.ListingID,
		Price:     price,
	}
}

// newestMatching finds the highest listing above minID carrying loc at price
func newestMatching(listings []models.Listing, minID uint64, loc models.Locator, price decimal.Decimal) (models.Listing, bool, error) {
	var best models.Listing
	found := false
	for _, l := range listings {
		if l.ListingID <= minID || l.MetadataLocator != loc || !l.Price.Equal(price) {
			continue
		}
		if !found || l.ListingID > best.ListingID {
			best = l
			found = true
		}
	}
	return best, found, nil
}

func describeSession(s models.Session) string {
	if s.IsConnected() {
		return models.ShortenAddress(s.Account)
	}
	return string(s.State)
}
