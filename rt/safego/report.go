package safego

import "github.com/sirupsen/logrus"

func reportPanic(l logrus.FieldLogger, info PanicInfo) {
	f := tagFields(info.Name, info.Tags)
	f["panic"] = info.Value
	if len(info.Stack) > 0 {
		f["stack"] = string(info.Stack)
	}
	l.WithFields(f).Error("safego: panic recovered")
}

func reportError(l logrus.FieldLogger, info ErrorInfo) {
	l.WithFields(tagFields(info.Name, info.Tags)).WithError(info.Err).Error("safego: function returned error")
}
