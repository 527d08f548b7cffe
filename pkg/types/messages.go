package types

// Client -> Server
// frame:
//   data: string (base64 still image)
//   singleFrame: boolean // optional, true for the first capture of a live session
//
// toggle:
//   value: boolean // start/stop server-side landmark detection
//
// play_reference:
//   value: boolean
//   playOnce: boolean // optional, ask for the reference sequence to be sent once

// Server -> Client
// landmarks:
//   data: LandmarkFrame
//
// all_landmarks:
//   landmarks: LandmarkFrame[] // the whole reference sequence, in order
//
// status:
//   cvRunning: boolean
//   playReference: boolean
//
// play_reference:
//   value: boolean
//
// reference_completed: {}
//
// error:
//   message: string
//
// LandmarkFrame:
//   points: [x, y][] | null
//   kind: "live" | "reference"
//   contourIndices: { jaw: number[], mouth: number[] }
//   bounds: { minX, maxX, minY, maxY }
//   sourceFrameSize: { width, height }

// Client -> preview viewer (GET /preview)
// overlay:
//   version: number
//   overlay: { kind, style: { color, width }, segments: [{ contour, from, to }] }
//
// alert:
//   version: number
//   message: string
//
// error:
//   message: string // the viewer sent something we could not use

// Preview viewer -> Client
// live:      { value: boolean }
// reference: { value: boolean }
// viewport:  { width: number, height: number }
