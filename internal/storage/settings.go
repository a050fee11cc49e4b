package storage

// DefaultUserSettings returns the hard-coded settings every user starts
// from. Adult-content filtering defaults to on.
func DefaultUserSettings() *UserSettings {
	return &UserSettings{
		FilterAdultContent: true,
		Theme:              "auto",
		Language:           "zh-CN",
		AutoPlay:           true,
		VideoQuality:       "auto",
	}
}

// MergeSettings applies a partial update over the stored settings and the
// defaults, right-biased: defaults < current < patch. Every adapter uses
// this identically.
//
// The adult-content filter is resolved explicitly as
// patch ?? current ?? true: omitting it from a patch can never regress the
// flag, only an explicit false clears it. The other booleans merge by
// pointer presence alone.
func MergeSettings(current *UserSettings, patch SettingsPatch) *UserSettings {
	out := DefaultUserSettings()
	if current != nil {
		out.FilterAdultContent = current.FilterAdultContent
		out.Theme = current.Theme
		out.Language = current.Language
		out.AutoPlay = current.AutoPlay
		out.VideoQuality = current.VideoQuality
		if len(current.Extra) > 0 {
			out.Extra = make(map[string]any, len(current.Extra))
			for k, v := range current.Extra {
				out.Extra[k] = v
			}
		}
	}

	if patch.Theme != nil {
		out.Theme = *patch.Theme
	}
	if patch.Language != nil {
		out.Language = *patch.Language
	}
	if patch.AutoPlay != nil {
		out.AutoPlay = *patch.AutoPlay
	}
	if patch.VideoQuality != nil {
		out.VideoQuality = *patch.VideoQuality
	}
	for k, v := range patch.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(patch.Extra))
		}
		out.Extra[k] = v
	}

	switch {
	case patch.FilterAdultContent != nil:
		out.FilterAdultContent = *patch.FilterAdultContent
	case current != nil:
		out.FilterAdultContent = current.FilterAdultContent
	default:
		out.FilterAdultContent = true
	}

	return out
}
