package models

// ShortenAddress abbreviates an account address for display, e.g. "GABCD...WXYZ"
func ShortenAddress(address string) string {
	if len(address) <= 9 {
		return address
	}
	return address[:5] + "..." + address[len(address)-4:]
}
