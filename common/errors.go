package common

import (
	"runtime"
	"strings"

	"emperror.dev/errors"
)

// ErrWithCaller annotates err with the name of the calling function,
// trimming the package path down to the last element.
func ErrWithCaller(err error) error {
	if err == nil {
		return nil
	}

	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return err
	}

	fn := runtime.FuncForPC(pc)
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	return errors.WithMessage(err, "["+name+"]")
}

// LogIgnoreError logs err under msg if it is non-nil and otherwise does
// nothing, for failures that should never interrupt the caller.
func LogIgnoreError(err error, msg string, data map[string]interface{}) {
	if err == nil {
		return
	}

	l := logger.WithError(err)
	if data != nil {
		l = l.WithFields(data)
	}

	l.Error(msg)
}

var logger = GetFixedPrefixLogger("common")
