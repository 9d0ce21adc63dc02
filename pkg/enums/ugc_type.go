package enums

import "slices"

// UGCType is the kind of content a seller can request.
type UGCType string

const (
	UGCTypeTextReview     UGCType = "TEXT_REVIEW"
	UGCTypePhoto          UGCType = "PHOTO"
	UGCTypeVideo          UGCType = "VIDEO"
	UGCTypeExternalReview UGCType = "EXTERNAL_REVIEW"
)

var validUGCTypes = []UGCType{
	UGCTypeTextReview,
	UGCTypePhoto,
	UGCTypeVideo,
	UGCTypeExternalReview,
}

// IsValid reports whether the value is a known ugc type.
func (u UGCType) IsValid() bool {
	return slices.Contains(validUGCTypes, u)
}

// ParseUGCType converts raw input into UGCType.
func ParseUGCType(value string) (UGCType, error) {
	return parse(value, validUGCTypes, "ugc type")
}

// RequiresMedia reports whether the content must be delivered as an uploaded file.
func (u UGCType) RequiresMedia() bool {
	return u == UGCTypePhoto || u == UGCTypeVideo
}
