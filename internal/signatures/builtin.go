// ABOUTME: Built-in signature table for script-based attack indicators
// ABOUTME: Ordered so broader PowerShell evaluation markers are probed first

package signatures

import "github.com/hikmaai-io/hikmaai-lens/internal/types"

// BuiltinSource is the Source value of the built-in entries.
const BuiltinSource = "builtin"

// DefaultEntries returns a fresh copy of the built-in table.
func DefaultEntries() []types.Signature {
	return []types.Signature{
		builtin("Invoke-Expression", "PowerShell.IEX", types.CategoryScriptExecution),
		builtin("IEX", "PowerShell.IEX.Short", types.CategoryScriptExecution),
		builtin("DownloadString", "PowerShell.WebDownload", types.CategoryDownloader),
		builtin("System.Net.WebClient", "PowerShell.WebClient", types.CategoryDownloader),
		builtin("Start-Process", "PowerShell.ProcessStart", types.CategoryProcessLaunch),
		builtin("cmd.exe /c", "CommandExecution", types.CategoryProcessLaunch),
		builtin("powershell.exe -enc", "PowerShell.Encoded", types.CategoryObfuscation),
		builtin("[System.Convert]::FromBase64String", "PowerShell.Base64Decode", types.CategoryObfuscation),
		builtin("New-Object System.IO.MemoryStream", "PowerShell.MemoryStream", types.CategoryObfuscation),
		builtin("Reflection.Assembly", "PowerShell.Reflection", types.CategoryReflection),
	}
}

// Default returns a Store holding the built-in table.
func Default() *Store {
	return MustBuild(DefaultEntries())
}

func builtin(pattern, name string, c types.Category) types.Signature {
	return types.Signature{
		Pattern:  pattern,
		Name:     name,
		Strength: types.StrengthDetected,
		Category: c,
		Source:   BuiltinSource,
	}
}
