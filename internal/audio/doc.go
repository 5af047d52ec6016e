// Package audio converts microphone capture into the PCM frames the
// transcription service expects.
//
// Capture hosts deliver raw chunks: little-endian IEEE-754 float32 samples
// normalized to [-1, 1]. The service expects signed 16-bit little-endian PCM.
// EncodePCM performs that conversion and FrameSource applies it lazily to a
// live capture handle.
package audio
