package cmd

import (
	"log"

	"github.com/quillml/quill/pkg/qerr"
)

// exitIfRunError inspects launch errors and emits user-friendly guidance
// before exiting. Unclassified errors fall back to log.Fatalf.
func exitIfRunError(err error) {
	if err == nil {
		return
	}
	switch {
	case qerr.IsCode(err, qerr.CodeInvalidReference):
		log.Fatalf("invalid project reference: %v", err)
	case qerr.IsCode(err, qerr.CodeExecution):
		log.Fatalf("could not launch run: %v", err)
	case qerr.IsCode(err, qerr.CodeNetwork):
		log.Fatalf("network failure while launching run: %v", err)
	default:
		log.Fatalf("%v", err)
	}
}
