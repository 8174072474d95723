package utils

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
)

func TestErrorCodes(t *testing.T) {
	for code := ErrNoInput; code <= ErrNotImplemented; code++ {
		if len(errorMessages[code]) == 0 || len(errorNames[code]) == 0 {
			t.Errorf("error code %d has no message or name", code)
		}
		if code.IsUserError() != (code < ErrInternal) {
			t.Errorf("error family of %v failed", code)
		}
	}
	if ErrNone.IsUserError() {
		t.Errorf("ErrNone is not a user error")
	}
	if ErrorCode(99).Message() != ErrInternal.Message() {
		t.Errorf("unknown codes should use the internal error message")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != ErrNone {
		t.Errorf("CodeOf(nil) failed")
	}
	if CodeOf(fmt.Errorf("plain")) != ErrInternal {
		t.Errorf("foreign errors should be internal")
	}

	cause := errors.New("exec format error")
	err := errors.Wrap(WrapError(ErrBackendExec, cause), "GetCoverage")
	if CodeOf(err) != ErrBackendExec {
		t.Errorf("CodeOf wrapped error failed. Expecting %v, actual: %v", ErrBackendExec, CodeOf(err))
	}
	if errors.Cause(err) == nil {
		t.Errorf("cause lost")
	}

	pe := NewError(ErrBadOperation, "FooBar")
	if pe.Error() != "Unrecognized Operation: FooBar" {
		t.Errorf("ProxyError.Error failed, actual: %s", pe.Error())
	}
}
