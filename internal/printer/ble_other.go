//go:build !linux

package printer

// NewSystemCentral is only implemented for linux HCI devices
func NewSystemCentral() (*SystemCentral, error) {
	return nil, ErrUnavailable
}
