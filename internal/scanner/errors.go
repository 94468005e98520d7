package scanner

import "fmt"

// Operations reported by FetchError.
const (
	OpLatestBlock = "latest_block"
	OpGetLogs     = "get_logs"
	OpDecode      = "decode"
)

// FetchError aborts a scan. No partial result accompanies it.
type FetchError struct {
	Op    string
	Event string
	Range BlockRange
	Err   error
}

func (e *FetchError) Error() string {
	if e.Op == OpLatestBlock {
		return fmt.Sprintf("fetch latest block: %v", e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Event, e.Range, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
