package provider

// ExtractionPrompt asks the model for the common raw extraction shape.
// Values stay as printed on the certificate; unit parsing happens later.
const ExtractionPrompt = `You are reading a laboratory Certificate of Analysis for a peptide sample.
Return ONE JSON object and nothing else, using exactly these keys:

{
  "task_number": "certificate task number",
  "testing_ordered": "date as printed",
  "sample_received": "date as printed",
  "analysis_conducted": "date as printed",
  "client": "client / vendor name exactly as printed",
  "sample": "sample description exactly as printed",
  "peptide_name": "base peptide name without dosage",
  "quantity_nominal": "declared quantity number from the sample name, e.g. 10",
  "unit_of_measure": "mg, mcg or IU",
  "manufacturer": "manufacturer as printed",
  "batch": "batch / lot number",
  "test_type": "test title as printed",
  "test_category": "one of purity, endotoxin, heavy_metals, microbiology",
  "results": {"<parameter>": "<value with unit>"},
  "endotoxin_level": "endotoxin value with unit, e.g. <50 EU/mg",
  "heavy_metals": {"Pb": "value", "Cd": "value", "Hg": "value", "As": "value"},
  "microbiology_tamc": "TAMC value with unit",
  "microbiology_tymc": "TYMC value with unit",
  "comments": "comments as printed",
  "verification_key": "12 character verification key"
}

Rules:
- Copy EVERY row of the results table into "results", keeping value and unit together
  (e.g. {"Retatrutide": "44.33 mg", "Purity": "99.720%", "Endotoxins": "<50 EU/mg"}).
- Keep inequality signs such as "<" and ">" exactly as printed.
- If a parameter was measured several times, use an array of values
  (e.g. {"Purity": ["99.41%", "99.38%", "99.45%"]}).
- For blends, list each peptide with its own quantity (e.g. {"BPC-157": "10.1 mg", "TB-500": "9.8 mg"}).
- If quantities appear in the comments (e.g. "KPV: 11.75 mg"), add them to "results".
- Use null for anything not present. Do not invent values.
- Output only JSON: no markdown, no explanation.`
