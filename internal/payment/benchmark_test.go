package payment

import "testing"

func BenchmarkNormalize(b *testing.B) {
	n := DefaultStatusNormalizer()
	for i := 0; i < b.N; i++ {
		n.Normalize("Finished", "nowpayments")
	}
}

func BenchmarkGenerateReference(b *testing.B) {
	drv := newFakeDriver("alpha", "NGN")
	for i := 0; i < b.N; i++ {
		drv.GenerateReference("")
	}
}

func BenchmarkDetectFromReference(b *testing.B) {
	d := DefaultProviderDetector()
	for i := 0; i < b.N; i++ {
		d.DetectFromReference("NOWP_1700000000_abcdef0123456789")
	}
}
