package purchaseorder

import (
	"fmt"
	"strconv"
	"strings"
)

// GeneratePONumber returns the base po_number for tenant on date,
// formatted as {first-2-of-tenant upper}{YYYYMMDD}{001}.
func GeneratePONumber(tenant string, datePrefix string) string {
	prefix := strings.ToUpper(tenant)
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	for len(prefix) < 2 {
		prefix += "X"
	}
	return fmt.Sprintf("%s%s001", prefix, datePrefix)
}

// IncrementPONumber returns the po_number one past the highest
// trailing 3-digit sequence in existing (every po_number already used
// under the same {prefix}{date} family), or base when no existing
// sequence is at or above base's. Gaps below the highest sequence are
// never reused.
func IncrementPONumber(base string, existing []string) string {
	if len(base) < 3 {
		return base
	}
	numPart := base[len(base)-3:]
	prefix := base[:len(base)-3]

	seq, err := strconv.Atoi(numPart)
	if err != nil {
		return base
	}

	for _, n := range existing {
		if !strings.HasPrefix(n, prefix) {
			continue
		}
		if used, err := strconv.Atoi(n[len(prefix):]); err == nil && used >= seq {
			seq = used + 1
		}
	}
	return fmt.Sprintf("%s%03d", prefix, seq)
}
