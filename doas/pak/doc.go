// Package pak reads and writes scan containers.
//
// A scan container is a plain concatenation of spectrum records. Every record
// starts with a fixed 76 byte little-endian header:
//
//	offset size field
//	     0    4 magic "DSPK"
//	     4    1 version
//	     5    1 flags (bit 0: payload is deflate-compressed)
//	     6    2 header size (76)
//	     8   16 name, NUL padded
//	    24   16 device serial, NUL padded
//	    40    1 detector channel
//	    41    1 interlace step
//	    42    2 start channel
//	    44    2 number of samples
//	    46    2 number of co-added exposures
//	    48    4 exposure time in milliseconds
//	    52    8 start time, unix milliseconds (0 = unset)
//	    60    8 stop time, unix milliseconds (0 = unset)
//	    68    4 payload size in bytes
//	    72    4 CRC-32 (IEEE) of the decoded samples
//
// The payload holds the samples as little-endian float64 values, optionally
// compressed with deflate. The checksum always covers the decoded bytes, so
// both corruption of the compressed stream and corruption of the samples are
// detected.
//
// [Reader] indexes a container, assigns every record a [Role] from its name
// and hands out measurement spectra through a cursor ([Reader.Next]) or by
// position ([Reader.At]). Decode failures are reported per record as
// [*RecordError]; the rest of the container stays readable.
package pak
