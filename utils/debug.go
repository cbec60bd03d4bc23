package utils

import "k8s.io/klog/v2"

// Debugf logs per-step diagnostics; enable with -v=2.
func Debugf(format string, args ...any) {
	klog.V(2).Infof(format, args...)
}
