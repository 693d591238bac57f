// Package clock turns noisy, occasionally corrupted (local, external) time
// samples into a stable estimate of the current absolute time.
//
// The device clock may be wrong, unset or slowly corrected, and the external
// reference (GPS, or the phone over RPC) sometimes reports wildly wrong
// timestamps. Both estimators therefore use the median, not the mean, of the
// observed offsets: a single corrupted sample cannot move the estimate, and up
// to roughly half of the samples may be bad.
//
// The package consists of:
//   - SystemClock: access to the local clock, which may be off.
//   - Bounded: a one-shot estimator that stops learning after a sample cap,
//     suitable for correcting the clock once at boot.
//   - Windowed: a sliding-window estimator over a TimeSeries, memoized so
//     that "now" can be queried many times per second cheaply.
//   - Clock: the exposed "now" function combining a SystemClock and an
//     Estimator.
package clock
