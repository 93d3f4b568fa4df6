package listing

import "marketplace/internal/models"

// Eligibility is the action a session may offer on a listing
type Eligibility string

const (
	EligibilityConnect      Eligibility = "connect_wallet"
	EligibilityCannotBuyOwn Eligibility = "cannot_buy_own"
	EligibilityCanResell    Eligibility = "can_resell"
	EligibilityCanBuy       Eligibility = "can_buy"
	EligibilityNotForSale   Eligibility = "not_for_sale"
)

// CheckEligibility decides which action the UI offers for a listing.
// It is advisory; the contract enforces the same rules.
func CheckEligibility(sess models.Session, l models.Listing) Eligibility {
	account, ok := sess.AccountID()
	switch {
	case !ok:
		return EligibilityConnect
	case l.Seller == account && !l.Sold:
		return EligibilityCannotBuyOwn
	case l.Owner == account && l.Sold && !l.Closed:
		return EligibilityCanResell
	case l.Sold:
		return EligibilityNotForSale
	default:
		return EligibilityCanBuy
	}
}
