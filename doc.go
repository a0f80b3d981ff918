/*
Package secdb stores per-symbol, per-day time-series of market data
snapshots and trades in a compact, append-only, self-indexing binary file.
One file holds one (symbol, trading date) partition and is either being
appended to or read, never both.

Data Structure Documentation

File

A file starts with an ASCII header, followed by a fixed-size chunkmap and
the event stream.

    File layout:
    +--------+----------+---------+---------+-------+---------+
    | header | chunkmap | event 1 | event 2 |  ...  | event n |
    +--------+----------+---------+---------+-------+---------+

    Header:
    +-------------+------+---------------+----+
    | key=value \n | ...  | key=value \n  | \n |
    +-------------+------+---------------+----+

The header is a sequence of key=value lines terminated by an empty line.
Required keys are version, symbol, date, depth, scale and chunk_size;
unknown keys are ignored on read. The chunkmap begins at the byte right
after the terminating newline.

Chunkmap

The chunkmap partitions the UTC day into buckets of chunk_size milliseconds
and holds one big-endian uint32 per bucket: the absolute byte offset of the
first market data snapshot whose timestamp falls into that bucket, or zero
when the bucket holds no snapshot. It is written as a zeroed table at file
creation and entries are overwritten in place as buckets fill.

    Chunkmap:
    +--------------------+--------------------+-------+--------------------+
    | offset 0 (4 bytes) | offset 1 (4 bytes) |  ...  | offset N (4 bytes) |
    +--------------------+--------------------+-------+--------------------+

Events

Each event starts with a one-byte tag. The first snapshot of a bucket is
stored in full; subsequent snapshots within the same bucket are deltas
against the previous snapshot. Trades never interrupt the delta chain.

    Full snapshot (tag 0xC0):
    +-----+------------------+----------------------------------+----------------------------------+
    | tag | time (8 bytes BE) | depth x price (svarint), size (uvarint) bid | same for ask |
    +-----+------------------+----------------------------------+----------------------------------+

    Delta snapshot (tag 0x80):
    +-----+--------------------+---------------+--------------------------------------+
    | tag | time diff (uvarint) | level bitmask | price diff, size diff (svarint) each |
    +-----+--------------------+---------------+--------------------------------------+

    Trade (tag 0xA0):
    +-----+------------------+--------------+------------------+------------------+
    | tag | time (8 bytes BE) | id (uvarint) | price (svarint)  | volume (uvarint) |
    +-----+------------------+--------------+------------------+------------------+

The delta bitmask holds one bit per level per side, bid levels first, from
the least significant bit up, widened to whole bytes. Price and size diffs
follow in bit order, only for changed levels.

Prices are integers: a file-level scale converts real prices on the way in
as round(price * scale). Timestamps are milliseconds since the Unix epoch,
big-endian where fixed-width, and never decrease within a file.
*/
package secdb
