package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill converts the metadata of an ingress message into invocation
// metadata. Only the keys the runtime understands are kept.
func FromWatermill(md message.Metadata) Metadata {
	result := Metadata{}
	for _, key := range []string{KeyDeploymentID, KeyAuthorization, KeyCorrelationID} {
		if v := md.Get(key); v != "" {
			result[key] = v
		}
	}
	return result
}

// ToWatermill converts invocation metadata into a Watermill map.
func ToWatermill(metadata Metadata) message.Metadata {
	wm := make(message.Metadata, len(metadata))
	for k, v := range metadata {
		wm[k] = v
	}
	return wm
}
