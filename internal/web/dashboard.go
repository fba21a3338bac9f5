package web

// dashboardHTML polls the HTML fragments of /api/status, /api/processes and
// /api/summary with htmx.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>tokikanri</title>
<script src="https://unpkg.com/htmx.org@1.9.10"></script>
<style>
  body { font: 15px/1.4 system-ui, sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; color: #222; }
  header { display: flex; align-items: baseline; gap: 1rem; border-bottom: 1px solid #ccc; padding-bottom: .5rem; }
  header h1 { font-size: 1.3rem; margin: 0; }
  #now { color: #555; }
  section { margin-top: 1.5rem; }
  section h2 { font-size: 1rem; text-transform: uppercase; letter-spacing: .05em; color: #666; }
  .periods { display: grid; grid-template-columns: repeat(auto-fit, minmax(280px, 1fr)); gap: 1.5rem; }
  table { width: 100%; border-collapse: collapse; }
  td, th { padding: .3rem .4rem; text-align: left; border-bottom: 1px solid #eee; }
  td.num { text-align: right; font-variant-numeric: tabular-nums; white-space: nowrap; }
  .bar { height: 3px; background: #4a90d9; margin-top: 2px; }
  .badge { font-size: .75rem; padding: 0 .4rem; border-radius: 3px; background: #eee; }
  .badge.accruing { background: #d4f4dd; color: #1d6b34; }
  .badge.suspended { background: #fde8cf; color: #8a4b08; }
  .badge.media { background: #e0ebfa; color: #2b5797; }
  .idle { color: #888; }
  .warn { color: #b00; }
  .total { font-weight: 600; }
</style>
</head>
<body>
<header>
  <h1>tokikanri</h1>
  <div id="now" hx-get="/api/status" hx-trigger="load, every 2s"></div>
</header>

<section>
  <h2>Tracked</h2>
  <div hx-get="/api/processes" hx-trigger="load, every 5s"><p class="idle">Loading...</p></div>
</section>

<section class="periods">
  <div>
    <h2>Today</h2>
    <div hx-get="/api/summary?period=today" hx-trigger="load, every 30s"><p class="idle">Loading...</p></div>
  </div>
  <div>
    <h2>This week</h2>
    <div hx-get="/api/summary?period=week" hx-trigger="load, every 30s"><p class="idle">Loading...</p></div>
  </div>
</section>
</body>
</html>`
