package cloud

import (
	"fmt"
	"os"
	"strings"
)

// ValidateCredentials checks that the environment carries what the scheme's provider needs, before any request is
// made.
//
// The error names the exact missing variables so the caller can fix its environment without guesswork.
func ValidateCredentials(scheme string) error {
	switch scheme {
	case "s3":
		var missing []string
		for _, v := range []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"} {
			if os.Getenv(v) == "" {
				missing = append(missing, v)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("s3 credentials missing: set %s (AWS_REGION is optional)", strings.Join(missing, " and "))
		}

	case "gs":
		if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" && os.Getenv("GOOGLE_SERVICE_ACCOUNT") == "" {
			return fmt.Errorf("gs credentials missing: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_SERVICE_ACCOUNT")
		}

	case "az", "azblob":
		if os.Getenv("AZURE_STORAGE_ACCOUNT_NAME") == "" {
			return fmt.Errorf("azure credentials missing: set AZURE_STORAGE_ACCOUNT_NAME")
		}
		if os.Getenv("AZURE_STORAGE_ACCOUNT_KEY") == "" && os.Getenv("AZURE_STORAGE_SAS_TOKEN") == "" {
			return fmt.Errorf("azure credentials missing: set AZURE_STORAGE_ACCOUNT_KEY or AZURE_STORAGE_SAS_TOKEN")
		}

	default:
		return fmt.Errorf("unsupported scheme %q", scheme)
	}

	return nil
}
