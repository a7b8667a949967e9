// Package schemas embeds the Terrapin PKL schemas so that state files and
// starter declarations can amend them through the terrapin: module scheme,
// independent of where the binary or the workspace lives on disk.
package schemas

import "embed"

// FS holds Terrapin.pkl (declarations) and State.pkl (state files). The
// evaluator serves it under the terrapin: scheme, so a state file begins
// with `amends "terrapin:/State.pkl"`.
//
//go:embed *.pkl
var FS embed.FS
