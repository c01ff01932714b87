// Package models defines the canvas data model shared by every engine
// component: shapes, connections, groups, and the ephemeral presence, cursor
// and lock records that ride the realtime channel.
//
// All types marshal with fxamacker/cbor using their json field tags, so the
// same structs serve both the document store and the realtime channel.
package models
