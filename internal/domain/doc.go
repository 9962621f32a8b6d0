// Package domain defines the types shared by every layer of the engine:
// key and fingerprint types, instance tags, TLVs, policy and event enums,
// sentinel errors, and the Handler contract the application implements.
// It contains plain types and interfaces only.
package domain
