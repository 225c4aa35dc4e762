//go:build !govips || !cgo

package fallback

func Startup() error {
	return nil
}

func Shutdown() {}

func newTransformer(l limits) (Transformer, error) {
	return imagingTransformer{limits: l}, nil
}
