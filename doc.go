/**
* package chainexport provides a service for exporting ranges of blockchain
* data fetched from public chain APIs as normalized JSON records. The
* RangeExporter fetches positions concurrently through a chain Source and hands
* the resulting records to an ItemExporter in position order. The aptos,
* stellar and ordinals packages implement Sources along with the transformers
* that map raw API payloads to typed records. Supported outputs include
* rotating local files, stdout, Amazon S3 uploads, Postgres tables and NATS
* subjects.
 */
package chainexport
