package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := fmt.Errorf("commit: %w", ValidationError("cart.commit", "line %d has no price", 2))

	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrPermission)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Contains(t, err.Error(), "line 2 has no price")
}

func TestNetworkErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NetworkError("remote.ping", cause)

	assert.True(t, IsNetwork(err))
	assert.ErrorIs(t, err, cause)
}

func TestScanFailureFromDefaultsToValidation(t *testing.T) {
	failure := ScanFailureFrom(errors.New("unknown code"))
	assert.Equal(t, KindValidation, failure.Reason)

	failure = ScanFailureFrom(DuplicateDeviceError("dedup", "IMEI-1"))
	assert.Equal(t, KindDuplicateDevice, failure.Reason)
}

func TestNormalizeDeviceID(t *testing.T) {
	assert.Equal(t, "imei-35209", NormalizeDeviceID("  IMEI-35209\t"))
	assert.Equal(t, "abc123", NormalizeDeviceID("ＡＢＣ１２３"))
	assert.True(t, SameDevice("sn-01", " SN-01 "))
	assert.False(t, SameDevice("", " "))
}
