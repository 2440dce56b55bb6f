package domain

// ScanResult is one of ScanSuccess, ScanFailure or ScanCollapsed.
type ScanResult interface {
	isScanResult()
	Accepted() bool
}

type ScanSuccess struct {
	ProductName string `json:"product_name"`
	CartID      string `json:"cart_id"`
	LineID      string `json:"line_id"`
	RowKey      string `json:"row_key,omitempty"`
	Warning     string `json:"warning,omitempty"`
}

type ScanFailure struct {
	Reason  ErrorKind `json:"reason"`
	Message string    `json:"message"`
}

// ScanCollapsed is returned when a code arrives while another scan holds the
// ingestion lock and no earlier result exists for it.
type ScanCollapsed struct {
	Code string `json:"code"`
}

func (ScanSuccess) isScanResult() {}
func (ScanFailure) isScanResult() {}
func (ScanCollapsed) isScanResult() {}

func (ScanSuccess) Accepted() bool { return true }
func (ScanFailure) Accepted() bool { return false }
func (ScanCollapsed) Accepted() bool { return false }

// ScanFailureFrom maps err onto a failure result, defaulting to validation.
func ScanFailureFrom(err error) ScanFailure {
	kind := KindOf(err)
	if kind == "" {
		kind = KindValidation
	}
	return ScanFailure{Reason: kind, Message: err.Error()}
}
