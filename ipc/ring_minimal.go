//go:build !giouring

package ipc

// This is the default build: it has no dependency on io_uring and
// works on every platform Go itself supports, matching the teacher's
// own iouring_stub.go posture for hosts that don't want the
// giouring-backed path.
func newNotifier() notifier {
	return newChanNotifier()
}
