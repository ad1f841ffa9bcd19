// ABOUTME: Industry test-file signatures used to verify a deployment end to end
// ABOUTME: Matches the EICAR string and the AMSI test sample, never real threats

package feeds

import "github.com/hikmaai-io/hikmaai-lens/internal/types"

// EICAR test string (68 characters).
// See: https://www.eicar.org/download-anti-malware-testfile/
const eicarTestString = "X5O!P%@AP[4\\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*"

// amsiTestSample is the string every AMSI provider is expected to flag.
const amsiTestSample = "AMSI Test Sample: 7e72c3ce-861b-4339-8740-0ac1484c1386"

// EICARTestString returns the standard EICAR test string.
func EICARTestString() string {
	return eicarTestString
}

// AMSITestSample returns the standard AMSI test sample string.
func AMSITestSample() string {
	return amsiTestSample
}

// TestFileSignatures returns the test-file table.
func TestFileSignatures() []types.Signature {
	return []types.Signature{
		{
			Pattern:     amsiTestSample,
			Name:        "AMSI-Test-Sample",
			Strength:    types.StrengthDetected,
			Category:    types.CategoryTestFile,
			Source:      FormatTestFiles,
			Description: "AMSI test sample - not a real threat",
			Tags:        []string{"test", "amsi"},
		},
		{
			Pattern:     eicarTestString,
			Name:        "EICAR-Test-File",
			Strength:    types.StrengthDetected,
			Category:    types.CategoryTestFile,
			Source:      FormatTestFiles,
			Description: "EICAR Anti-Virus Test File - not a real threat",
			Tags:        []string{"test", "eicar"},
		},
	}
}
