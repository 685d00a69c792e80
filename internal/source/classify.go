// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

package source

import "strings"

// FileType classifies a source object by its key.
type FileType string

const (
	FileStandby     FileType = "STANDBY"
	FileFastpassNew FileType = "FASTPASS_NEW"
	FileFastpassOld FileType = "FASTPASS_OLD"
	FileUnknown     FileType = "UNKNOWN"
)

// legacyPatterns are filename fragments marking the old headerless fastpass
// format: 2012-2018 plus the first two months of 2019, in both dated naming
// conventions.
var legacyPatterns = []string{
	"_2012", "_2013", "_2014", "_2015", "_2016", "_2017", "_2018",
	"_2019_01", "_2019_02", "_201901", "_201902",
}

// Classify determines the file type from the object key. Keys under the
// standby prefix contain "wait_times"; fastpass keys contain
// "fastpass_times" and are split old/new by the legacy filename patterns.
// Anything else is UNKNOWN: logged and skipped, never a failure.
func Classify(key string) FileType {
	lower := strings.ToLower(key)
	switch {
	case strings.Contains(lower, "wait_times"):
		return FileStandby
	case strings.Contains(lower, "fastpass_times"):
		for _, pat := range legacyPatterns {
			if strings.Contains(lower, pat) {
				return FileFastpassOld
			}
		}
		return FileFastpassNew
	}
	return FileUnknown
}
