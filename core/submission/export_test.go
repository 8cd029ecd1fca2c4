package submission

// SetMintFunc replaces the tran_id generator of svc.
func SetMintFunc(svc Service, fn func() string) {
	svc.(*service).mintFunc = fn
}
